package stages

import (
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
)

// Options tune the built-in stages.
type Options struct {
	// Location evaluates time windows; nil means UTC.
	Location *time.Location
	// Now overrides the clock of the built-in tasks.
	Now func() time.Time
	// Jitter overrides the random source of the jitter wait.
	Jitter func(min, max int) int
}

// RegisterDefaults registers the built-in stage builders and tasks.
func RegisterDefaults(builders *stage.Registry, tasks *stage.TaskRegistry, opts Options) error {
	if err := builders.Register(WaitStage{}); err != nil {
		return err
	}
	if err := builders.Register(NewTimeWindowStage(opts.Jitter)); err != nil {
		return err
	}
	if err := tasks.Register(WaitTaskName, NewWaitTask(opts.Now)); err != nil {
		return err
	}
	return tasks.Register(WindowTaskName, NewWindowTask(opts.Location, opts.Now))
}
