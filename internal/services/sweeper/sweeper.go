package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one registry the sweeper keeps in check
type Task struct {
	Name  string
	Sweep func(now time.Time) int
	Size  func() int
	// Report receives the registry size after each run. Optional.
	Report func(size int)
}

// Sweeper periodically drops expired entries from in-memory registries
type Sweeper struct {
	interval time.Duration
	tasks    []Task
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a sweeper. Non-positive intervals fall back to five minutes.
func New(interval time.Duration, logger *logrus.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		interval: interval,
		tasks:    tasks,
		logger:   logger,
		now:      time.Now,
	}
}

// Interval returns the configured period
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)

	s.logger.WithField("interval", s.interval.String()).Info("Sweeper started")
}

// Stop cancels the loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(s.now())
		}
	}
}

// RunOnce sweeps every task at now and returns the number of removed entries
func (s *Sweeper) RunOnce(now time.Time) int {
	total := 0
	for _, task := range s.tasks {
		removed := s.sweep(task, now)
		total += removed

		size := 0
		if task.Size != nil {
			size = task.Size()
		}
		if task.Report != nil {
			task.Report(size)
		}

		if removed > 0 {
			s.logger.WithFields(logrus.Fields{
				"task":    task.Name,
				"removed": removed,
				"size":    size,
			}).Debug("Swept expired entries")
		}
	}
	return total
}

func (s *Sweeper) sweep(task Task, now time.Time) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"panic": r,
			}).Error("Sweep task panicked")
			removed = 0
		}
	}()
	if task.Sweep == nil {
		return 0
	}
	return task.Sweep(now)
}
