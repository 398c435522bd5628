// Package scheduler runs per-user jobs on cron schedules. Each tick feeds
// the configured users through a deduplicating work queue drained by a
// fixed pool of workers.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/workqueue"

	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// Job processes one user
type Job func(ctx context.Context, userID string) error

const defaultWorkers = 4

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	cron    *cron.Cron
	users   []string
	workers int
	log     *logger.Logger

	mu   sync.Mutex
	jobs map[string]*entry
	ctx  context.Context
}

// New creates a scheduler for users. workers <= 0 uses the default pool size.
func New(users []string, workers int, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}

	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		users:   users,
		workers: workers,
		log:     log,
		jobs:    make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Add registers job under name on a standard five-field cron spec
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}

	e := &entry{name: name, spec: spec, job: job}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(e) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, name, err)
	}
	s.jobs[name] = e
	return nil
}

// Run starts the cron runner and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.log.Info("scheduler started", "jobs", n, "users", len(s.users))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// RunNow runs the named job for all users immediately and returns the
// aggregated failures
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runBatch(ctx, e)
}

func (s *Scheduler) tick(e *entry) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.runBatch(ctx, e); err != nil {
		s.log.Error("scheduled job finished with errors", "job", e.name, "error", err)
	}
}

func (s *Scheduler) runBatch(ctx context.Context, e *entry) error {
	if len(s.users) == 0 {
		s.log.Debug("no users scheduled", "job", e.name)
		return nil
	}

	queue := workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[string]{Name: e.name})
	for _, u := range s.users {
		queue.Add(u)
	}
	// Remaining items still drain after shutdown
	queue.ShutDown()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				userID, shutdown := queue.Get()
				if shutdown {
					return
				}
				if err := s.process(ctx, e, userID); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				queue.Done(userID)
			}
		}()
	}
	wg.Wait()

	s.log.Info("job completed", "job", e.name, "users", len(s.users), "failures", len(errs))
	return utilerrors.NewAggregate(errs)
}

func (s *Scheduler) process(ctx context.Context, e *entry, userID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked for user %s: %v", e.name, userID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.job(ctx, userID); err != nil {
		s.log.Warn("job failed", "job", e.name, "userId", userID, "error", err)
		return fmt.Errorf("%s for user %s: %w", e.name, userID, err)
	}
	s.log.Debug("job succeeded", "job", e.name, "userId", userID)
	return nil
}

// cronLogger routes cron's own logging through the service logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
