package delivery

import (
	"context"
	"sync"
	"time"

	"notification-pipeline/internal/common/logger"
)

// Job is a periodic task driven by the Scheduler.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Run makes a Worker a Job.
func (w *Worker) Run(ctx context.Context) error {
	_, err := w.Tick(ctx)
	return err
}

// Scheduler runs each job on its own goroutine at a fixed interval. Ticks of
// one job never overlap: a slow tick delays the next one.
type Scheduler struct {
	jobs   []Job
	wg     sync.WaitGroup
	logger logger.Logger
}

func NewScheduler(log logger.Logger) *Scheduler {
	return &Scheduler{logger: logger.ForComponent(log, "scheduler")}
}

func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches every job. Each one runs immediately and then on its interval
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
		s.logger.Info("Worker started", map[string]interface{}{
			"worker":   job.Name(),
			"interval": job.Interval().String(),
		})
	}
}

// Wait blocks until every job has finished its in-flight tick and stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		if err := job.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Worker tick failed", map[string]interface{}{
				"worker": job.Name(),
				"error":  err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
