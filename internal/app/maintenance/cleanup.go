package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/usermanager/pkg/logger"
)

const (
	defaultCacheSpec = "@hourly"
	defaultTimeout   = time.Minute
)

// Purger removes expired entries and reports how many went.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Task is one named housekeeping job.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int64, error)
}

// Cleaner runs housekeeping tasks on a cron schedule. Accounts and their reset
// token fields are never touched here.
type Cleaner struct {
	tasks   []Task
	cron    *cron.Cron
	timeout time.Duration
	log     *zap.Logger
	started bool
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithTimeout bounds a single task run.
func WithTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// WithCachePurge schedules removal of expired cache entries such as login
// notification markers and rate limit counters.
func WithCachePurge(store Purger, spec string) Option {
	return func(cleaner *Cleaner) {
		if store == nil {
			return
		}
		if spec == "" {
			spec = defaultCacheSpec
		}
		cleaner.tasks = append(cleaner.tasks, Task{Name: "cache", Schedule: spec, Run: store.PurgeExpired})
	}
}

// WithTask adds an arbitrary task.
func WithTask(task Task) Option {
	return func(cleaner *Cleaner) {
		if task.Run != nil {
			cleaner.tasks = append(cleaner.tasks, task)
		}
	}
}

// NewCleaner constructs a Cleaner. Without tasks Start is a no-op.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		timeout: defaultTimeout,
		log:     logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Tasks lists the registered task names.
func (c *Cleaner) Tasks() []string {
	names := make([]string, len(c.tasks))
	for i, task := range c.tasks {
		names[i] = task.Name
	}
	return names
}

// Start registers every task with the scheduler and launches it.
func (c *Cleaner) Start() error {
	if len(c.tasks) == 0 {
		return nil
	}

	for _, task := range c.tasks {
		task := task
		if _, err := c.cron.AddFunc(task.Schedule, func() {
			if err := c.run(context.Background(), task); err != nil {
				c.log.Warn("maintenance task failed", zap.String("task", task.Name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", task.Name, err)
		}
	}

	c.cron.Start()
	c.started = true
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if !c.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes every task sequentially and returns all failures combined.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, task := range c.tasks {
		errs = multierr.Append(errs, c.run(ctx, task))
	}
	return errs
}

func (c *Cleaner) run(ctx context.Context, task Task) error {
	if task.Run == nil {
		return errors.New("maintenance: task has no run func")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	removed, err := task.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", task.Name, err)
	}
	if removed > 0 {
		c.log.Info("maintenance task completed", zap.String("task", task.Name), zap.Int64("removed", removed))
	}
	return nil
}
