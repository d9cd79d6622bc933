// Package scheduler assesses every configured tenant on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/darkace1998/PostureLens/internal/assessment"
	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/logging"
)

// Assessor runs one assessment pass over all tenants.
// *assessment.Service satisfies it.
type Assessor interface {
	AssessAll(ctx context.Context) []assessment.Outcome
}

// Scheduler runs assessment passes on a schedule and keeps a rolling
// history of their outcomes.
type Scheduler struct {
	cfg     config.SchedulerConfig
	svc     Assessor
	history *History
	log     *logging.Logger
	now     func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. cfg.History bounds the number of runs kept.
func New(cfg config.SchedulerConfig, svc Assessor, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		svc:     svc,
		history: NewHistory(cfg.History),
		log:     log.Named("scheduler"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
}

// Start runs a pass immediately, then on the configured interval. It blocks
// until Stop is called.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	defer s.wg.Done()

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	select {
	case <-s.stop:
		return
	default:
	}
	s.RunOnce(s.ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(s.ctx)
		case <-s.stop:
			return
		}
	}
}

// Stop cancels any in-flight pass, signals the loop to exit and waits for
// it. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stop)
	})
	s.wg.Wait()
}

// RunOnce performs a single pass, records it and returns it.
func (s *Scheduler) RunOnce(ctx context.Context) Run {
	run := Run{StartedAt: s.now()}
	for _, o := range s.svc.AssessAll(ctx) {
		tr := TenantRun{TenantID: o.TenantID}
		if o.Err != nil {
			tr.Error = o.Err.Error()
			run.Failed++
		} else {
			tr.AssessmentID = o.Manifest.AssessmentID
			tr.Version = o.Manifest.Version
			tr.Grade = o.Manifest.Scores.OverallGrade
		}
		run.Tenants = append(run.Tenants, tr)
	}
	run.FinishedAt = s.now()
	s.history.Add(run)

	if run.Failed > 0 {
		s.log.Warn("Scheduled pass: %d/%d tenants failed", run.Failed, len(run.Tenants))
	} else {
		s.log.Info("Scheduled pass: %d tenants assessed in %s", len(run.Tenants), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	return run
}

// Runs returns the recorded passes, most recent first.
func (s *Scheduler) Runs() []Run {
	return s.history.All()
}
