package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"amm-swap/pkg/metrics"
)

const (
	DefaultPoolInterval  = 15 * time.Second // pool stats refresh while a pool view is open
	DefaultPriceInterval = 60 * time.Second // USD price refresh
	MinInterval          = 10 * time.Millisecond
)

// Task is one periodic unit of work. The context is cancelled when the task stops.
type Task func(ctx context.Context) error

// Scheduler runs keyed periodic tasks, one goroutine per key
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// runner manages execution of a single task
type runner struct {
	key      string
	kind     string
	interval time.Duration
	fn       Task
	ctx      context.Context
	cancel   context.CancelFunc
	trigger  chan struct{}
	done     chan struct{}
}

// New creates a scheduler with no tasks
func New(m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:   make(map[string]*runner),
		metrics: m,
		logger:  logger,
	}
}

// PoolKey names the refresh task of a pair
func PoolKey(symbolA, symbolB string) string {
	return "pool:" + strings.ToUpper(symbolA) + "/" + strings.ToUpper(symbolB)
}

// AccountKey names the refresh task of a connected account
func AccountKey(account string) string {
	return "account:" + strings.ToLower(account)
}

// Start runs fn immediately and then every interval until Stop(key)
func (s *Scheduler) Start(key, kind string, interval time.Duration, fn Task) error {
	if interval < MinInterval {
		interval = MinInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[key]; exists {
		return fmt.Errorf("task '%s' is already running", key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{
		key:      key,
		kind:     kind,
		interval: interval,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.tasks[key] = r
	s.metrics.ActiveTasks.Inc()

	go s.run(r)
	return nil
}

// Stop cancels a task and waits for its goroutine to exit
func (s *Scheduler) Stop(key string) error {
	s.mu.Lock()
	r, exists := s.tasks[key]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("task '%s' is not running", key)
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	r.cancel()
	<-r.done
	s.metrics.ActiveTasks.Dec()
	return nil
}

// StopAll stops every running task
func (s *Scheduler) StopAll() {
	for _, key := range s.Keys() {
		_ = s.Stop(key)
	}
}

// Trigger asks a task to run now without waiting for its next tick
func (s *Scheduler) Trigger(key string) bool {
	s.mu.RLock()
	r, exists := s.tasks[key]
	s.mu.RUnlock()
	if !exists {
		return false
	}

	select {
	case r.trigger <- struct{}{}:
	default:
		// A run is already queued.
	}
	return true
}

// TriggerKind triggers every task of a kind, e.g. all pool refreshes after a swap
func (s *Scheduler) TriggerKind(kind string) int {
	s.mu.RLock()
	var keys []string
	for key, r := range s.tasks {
		if r.kind == kind {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, key := range keys {
		if s.Trigger(key) {
			n++
		}
	}
	return n
}

// IsRunning returns true if a task is scheduled under key
func (s *Scheduler) IsRunning(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tasks[key]
	return exists
}

// Keys returns the running task keys in sorted order
func (s *Scheduler) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Scheduler) run(r *runner) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	s.logger.Debug("task started", "key", r.key, "interval", r.interval)
	s.execute(r)

	for {
		select {
		case <-r.ctx.Done():
			s.logger.Debug("task stopped", "key", r.key)
			return
		case <-ticker.C:
			s.execute(r)
		case <-r.trigger:
			s.execute(r)
		}
	}
}

func (s *Scheduler) execute(r *runner) {
	if r.ctx.Err() != nil {
		return
	}
	s.metrics.TaskRunsTotal.WithLabelValues(r.kind).Inc()
	if err := r.fn(r.ctx); err != nil && r.ctx.Err() == nil {
		// Silent failure - will retry next tick
		s.logger.Warn("task failed", "key", r.key, "error", err)
	}
}
