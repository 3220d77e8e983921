package flow

import (
	"context"
	"sync"
	"time"

	"agentmux/internal/logging"
)

// DefaultTickInterval is how often the scheduler polls for due flows.
const DefaultTickInterval = time.Minute

// Scheduler periodically executes due flows. Each flow runs in its own
// goroutine; a flow still running when its next slot arrives is not
// started a second time.
type Scheduler struct {
	service  *Service
	logger   *logging.Logger
	interval time.Duration

	mu       sync.Mutex
	inFlight map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Service  *Service
	Logger   *logging.Logger
	Interval time.Duration
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		service:  opts.Service,
		logger:   logger,
		interval: interval,
		inFlight: make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it and any in-flight flow runs to
// finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.done.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.service.Due()
	if err != nil {
		s.logger.Warn("due flow query failed", map[string]string{"error": err.Error()})
		return
	}
	for _, f := range due {
		if !s.claim(f.Name) {
			continue
		}
		name := f.Name
		s.done.Add(1)
		go func() {
			defer s.done.Done()
			defer s.release(name)
			if _, err := s.service.Execute(ctx, name); err != nil {
				s.logger.Error("scheduled flow failed", map[string]string{
					"flow":  name,
					"error": err.Error(),
				})
			}
		}()
	}
}

func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[name] {
		return false
	}
	s.inFlight[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
}
