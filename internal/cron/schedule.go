// Package cron schedules prompts to be injected into the agent loop at
// a future time: once (At), on a fixed interval (Every), or on a cron
// expression (Cron), driven by a single timer armed for the earliest
// enabled job's next run rather than a periodic tick.
package cron

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agent-diva/diva/pkg/divamodel"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// nowMs returns the current time as Unix milliseconds.
func nowMs() int64 {
	return time.Now().UnixMilli()
}

// computeNextRun returns schedule's next firing time in Unix
// milliseconds strictly after now, or nil if the schedule can never
// fire again (a past At, a non-positive Every, or an invalid
// expression/timezone — both logged, not fatal).
func computeNextRun(schedule divamodel.Schedule, now int64, log *slog.Logger) *int64 {
	switch schedule.Kind {
	case divamodel.ScheduleAt:
		if schedule.AtMs > now {
			v := schedule.AtMs
			return &v
		}
		return nil

	case divamodel.ScheduleEvery:
		if schedule.EveryMs <= 0 {
			return nil
		}
		v := now + schedule.EveryMs
		return &v

	case divamodel.ScheduleCron:
		expr, err := cronParser.Parse(schedule.Expr)
		if err != nil {
			log.Warn("invalid cron expression", "expr", schedule.Expr, "error", err)
			return nil
		}
		loc := time.UTC
		if schedule.Timezone != "" {
			tz, err := time.LoadLocation(schedule.Timezone)
			if err != nil {
				log.Warn("invalid cron timezone", "timezone", schedule.Timezone, "error", err)
				return nil
			}
			loc = tz
		}
		nowT := time.UnixMilli(now).In(loc)
		next := expr.Next(nowT)
		if next.IsZero() {
			return nil
		}
		v := next.UnixMilli()
		return &v

	default:
		return nil
	}
}
