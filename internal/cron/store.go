package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// jobStore is a JSON-file-backed list of cron job definitions, with an
// in-memory cached copy the service reads and mutates directly.
type jobStore struct {
	path string

	mu   sync.RWMutex
	jobs []divamodel.CronJob
}

func newJobStore(path string) *jobStore {
	return &jobStore{path: path}
}

// load reads the store file into the in-memory cache. A missing file is
// not an error — it means an empty job list. Call once at startup;
// later reads and writes go through snapshot/find/add/remove/update.
func (s *jobStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.jobs = nil
			return nil
		}
		return fmt.Errorf("read cron store: %w", err)
	}
	var doc struct {
		Jobs []divamodel.CronJob `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode cron store: %w", err)
	}
	s.jobs = doc.Jobs
	return nil
}

// save writes the in-memory cache to disk atomically.
func (s *jobStore) save() error {
	s.mu.RLock()
	doc := struct {
		Jobs []divamodel.CronJob `json:"jobs"`
	}{Jobs: s.jobs}
	s.mu.RUnlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cron store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// snapshot returns a copy of the current job list.
func (s *jobStore) snapshot() []divamodel.CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]divamodel.CronJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// find returns a copy of the job with the given id, if present.
func (s *jobStore) find(id string) (divamodel.CronJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return divamodel.CronJob{}, false
}

// add appends a new job.
func (s *jobStore) add(job divamodel.CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// remove deletes a job by id, reporting whether it was present.
func (s *jobStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// update replaces the job matching updated.ID in place, reporting
// whether a match was found.
func (s *jobStore) update(updated divamodel.CronJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == updated.ID {
			s.jobs[i] = updated
			return true
		}
	}
	return false
}

// earliestWake returns the minimum NextRunAtMs across enabled jobs that
// have one, or nil if no job is pending.
func (s *jobStore) earliestWake() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var earliest *int64
	for _, j := range s.jobs {
		if !j.Enabled || j.State.NextRunAtMs == nil {
			continue
		}
		if earliest == nil || *j.State.NextRunAtMs < *earliest {
			v := *j.State.NextRunAtMs
			earliest = &v
		}
	}
	return earliest
}

// due returns enabled jobs whose NextRunAtMs has passed.
func (s *jobStore) due(now int64) []divamodel.CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []divamodel.CronJob
	for _, j := range s.jobs {
		if j.Due(now) {
			out = append(out, j)
		}
	}
	return out
}
