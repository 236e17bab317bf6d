package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/models"
	"go.uber.org/zap"
)

// ErrBufferFull is returned by Enqueue when the queue has no room
var ErrBufferFull = errors.New("notification buffer full")

// ErrNotRunning is returned by Enqueue before Start or after Stop
var ErrNotRunning = errors.New("notification dispatcher not running")

// ApprovalNotifier delivers an approval request for a new pending action
type ApprovalNotifier interface {
	NotifyApproval(ctx context.Context, action *models.PendingAction) error
}

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int           // Size of the job channel
	WorkerCount int           // Number of concurrent workers
	SendTimeout time.Duration // Deadline for a single delivery
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  256,
		WorkerCount: 2,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher delivers approval notifications on background workers so that
// a slow or failing notifier never delays a submit.
type Dispatcher struct {
	notifier    ApprovalNotifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	jobs        chan *models.PendingAction
	workerCount int
	bufferSize  int
	sendTimeout time.Duration
	wg          sync.WaitGroup
	mu          sync.RWMutex
	started     bool
	stopped     bool
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(notifier ApprovalNotifier, logger *zap.Logger, metrics *observability.Metrics, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	return &Dispatcher{
		notifier:    notifier,
		logger:      logger,
		metrics:     metrics,
		jobs:        make(chan *models.PendingAction, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
		sendTimeout: cfg.SendTimeout,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("notification dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started notification dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop closes the queue and waits for queued notifications to drain
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("notification dispatcher not running")
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.logger.Info("stopping notification dispatcher", zap.Int("pending", len(d.jobs)))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("notification dispatcher stop timeout after %v", timeout)
	}
}

// Enqueue queues an approval notification without blocking. When the buffer
// is full the notification is dropped and ErrBufferFull returned.
func (d *Dispatcher) Enqueue(action *models.PendingAction) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		return ErrNotRunning
	}

	select {
	case d.jobs <- action:
		return nil
	default:
		d.metrics.RecordNotification("dropped")
		d.logger.Warn("notification buffer full, dropping approval request",
			zap.String("action_id", action.ID))
		return ErrBufferFull
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("notification worker started", zap.Int("worker_id", id))

	for action := range d.jobs {
		if err := d.deliver(action); err != nil {
			d.metrics.RecordNotification("failed")
			d.logger.Warn("approval notification failed",
				zap.Int("worker_id", id),
				zap.String("action_id", action.ID),
				zap.Error(err))
			continue
		}
		d.metrics.RecordNotification("sent")
	}

	d.logger.Debug("notification worker stopped", zap.Int("worker_id", id))
}

func (d *Dispatcher) deliver(action *models.PendingAction) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	return d.notifier.NotifyApproval(ctx, action)
}

// Stats represents dispatcher statistics
type Stats struct {
	BufferSize  int
	Pending     int
	WorkerCount int
	Running     bool
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		BufferSize:  d.bufferSize,
		Pending:     len(d.jobs),
		WorkerCount: d.workerCount,
		Running:     d.started && !d.stopped,
	}
}
