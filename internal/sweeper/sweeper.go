// Package sweeper runs the periodic exchange sweeps on cron schedules.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/robfig/cron/v3"
)

// Job names accepted by RunOnce.
const (
	JobExpire = "expire"
	JobPurge  = "purge"
)

// Sweeps is the part of the coordinator the sweeper drives.
type Sweeps interface {
	ExpireSweep(ctx context.Context) (int, error)
	PurgeSweep(ctx context.Context) (exchange.PurgeResult, error)
}

// Opts configures a Sweeper.
type Opts struct {
	Sweeps     Sweeps
	ExpireSpec string // 5-field cron expression
	PurgeSpec  string // 5-field cron expression
	Logger     *slog.Logger
	// Location for the schedules. Defaults to UTC.
	Location *time.Location
}

// Sweeper schedules ExpireSweep and PurgeSweep.
type Sweeper struct {
	sweeps Sweeps
	cron   *cron.Cron
	log    *slog.Logger
	ids    map[string]cron.EntryID
	ctx    context.Context
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New validates the schedules and returns a Sweeper that has not started.
func New(opts Opts) (*Sweeper, error) {
	if opts.Sweeps == nil {
		return nil, fmt.Errorf("sweeper: sweeps is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweeper")
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Sweeper{
		sweeps: opts.Sweeps,
		log:    logger,
		ids:    make(map[string]cron.EntryID),
		ctx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		cron.WithLogger(cronLogger{logger}),
	)
	for _, job := range []struct{ name, spec string }{
		{JobExpire, opts.ExpireSpec},
		{JobPurge, opts.PurgeSpec},
	} {
		name := job.name
		id, err := s.cron.AddFunc(job.spec, func() {
			if err := s.RunOnce(s.ctx, name); err != nil {
				s.log.Error("sweep failed", "job", name, "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("sweeper: %s schedule %q: %w", name, job.spec, err)
		}
		s.ids[name] = id
	}
	return s, nil
}

// Run starts the schedules and blocks until ctx is cancelled, then waits for
// running sweeps to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	for name, id := range s.ids {
		s.log.Info("sweep scheduled", "job", name, "next", s.cron.Entry(id).Next)
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the next scheduled run of job, or the zero time if the
// sweeper is not running.
func (s *Sweeper) Next(job string) time.Time {
	id, ok := s.ids[job]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// RunOnce runs job immediately. An empty job runs both sweeps.
func (s *Sweeper) RunOnce(ctx context.Context, job string) error {
	switch job {
	case JobExpire:
		n, err := s.sweeps.ExpireSweep(ctx)
		if err != nil {
			return fmt.Errorf("sweeper: expire: %w", err)
		}
		s.log.Info("expire sweep done", "expired", n)
	case JobPurge:
		res, err := s.sweeps.PurgeSweep(ctx)
		if err != nil {
			return fmt.Errorf("sweeper: purge: %w", err)
		}
		s.log.Info("purge sweep done", "archived", res.Archived, "unreachable", res.Unreachable)
	case "":
		if err := s.RunOnce(ctx, JobExpire); err != nil {
			return err
		}
		return s.RunOnce(ctx, JobPurge)
	default:
		return fmt.Errorf("sweeper: unknown job %q", job)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
