package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run() error
}

// Scheduler runs registered jobs on cron schedules. Each job's panics
// and errors are isolated so one bad cycle cannot stop the others.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:  logger.Component("scheduler"),
		jobs: make(map[string]cron.EntryID),
	}
}

// AddJob registers job on the given cron spec, e.g. "@every 15s".
func (s *Scheduler) AddJob(spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job.Run(); err != nil {
			s.log.Error("job failed", "job", job.Name(), "error", err.Error(),
				"duration", time.Since(start).String())
			return
		}
		s.log.Debug("job completed", "job", job.Name(),
			"duration", time.Since(start).String())
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.Name()] = id
	s.mu.Unlock()
	s.log.Info("job registered", "job", job.Name(), "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
