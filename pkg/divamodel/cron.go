package divamodel

// ScheduleKind discriminates a CronJob's Schedule variant.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is a tagged union over the three schedule kinds a CronJob can
// carry. Exactly one of AtMs/EveryMs/(Expr,Timezone) is meaningful,
// selected by Kind.
type Schedule struct {
	Kind     ScheduleKind `json:"type"`
	AtMs     int64        `json:"at_ms,omitempty"`
	EveryMs  int64        `json:"every_ms,omitempty"`
	Expr     string       `json:"expr,omitempty"`
	Timezone string       `json:"tz,omitempty"`
}

// CronPayload carries the prompt to inject and its delivery routing.
type CronPayload struct {
	Content  string         `json:"content"`
	Channel  string         `json:"channel,omitempty"`
	To       string         `json:"to,omitempty"`
	Deliver  bool           `json:"deliver"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CronState tracks a job's last/next execution.
type CronState struct {
	NextRunAtMs *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMs *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// CronJob is a persisted scheduled job.
type CronJob struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Enabled        bool        `json:"enabled"`
	Schedule       Schedule    `json:"schedule"`
	Payload        CronPayload `json:"payload"`
	State          CronState   `json:"state"`
	CreatedAtMs    int64       `json:"created_at_ms"`
	UpdatedAtMs    int64       `json:"updated_at_ms"`
	DeleteAfterRun bool        `json:"delete_after_run"`
}

// Due reports whether the job should fire at time nowMs.
func (j *CronJob) Due(nowMs int64) bool {
	if j == nil || !j.Enabled || j.State.NextRunAtMs == nil {
		return false
	}
	return *j.State.NextRunAtMs <= nowMs
}
