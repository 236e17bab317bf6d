package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/models"
	"go.uber.org/zap"
)

// MockNotifier is a mock implementation of ApprovalNotifier
type MockNotifier struct {
	mock.Mock
	mu        sync.Mutex
	delivered []string
}

func (m *MockNotifier) NotifyApproval(ctx context.Context, action *models.PendingAction) error {
	args := m.Called(ctx, action)

	m.mu.Lock()
	m.delivered = append(m.delivered, action.ID)
	m.mu.Unlock()

	return args.Error(0)
}

func (m *MockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

// blockingNotifier holds every delivery until release is closed
type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) NotifyApproval(ctx context.Context, action *models.PendingAction) error {
	<-b.release
	return nil
}

func TestDispatcher_StartStop(t *testing.T) {
	d := NewDispatcher(new(MockNotifier), zap.NewNop(), nil, DefaultConfig())

	require.NoError(t, d.Start())
	assert.Error(t, d.Start())
	assert.True(t, d.GetStats().Running)

	require.NoError(t, d.Stop(time.Second))
	assert.Error(t, d.Stop(time.Second))
	assert.False(t, d.GetStats().Running)
}

func TestDispatcher_Delivers(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("NotifyApproval", mock.Anything, mock.Anything).Return(nil)
	metrics := observability.NewMetrics()

	d := NewDispatcher(notifier, zap.NewNop(), metrics, Config{BufferSize: 10, WorkerCount: 3})
	require.NoError(t, d.Start())

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, d.Enqueue(&models.PendingAction{ID: id}))
	}

	require.NoError(t, d.Stop(2*time.Second))
	assert.Equal(t, 3, notifier.count())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Notifications.WithLabelValues("sent")))
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("NotifyApproval", mock.Anything, mock.Anything).Return(errors.New("HTTP 500"))
	metrics := observability.NewMetrics()

	d := NewDispatcher(notifier, zap.NewNop(), metrics, Config{BufferSize: 4, WorkerCount: 1})
	require.NoError(t, d.Start())
	require.NoError(t, d.Enqueue(&models.PendingAction{ID: "a-1"}))
	require.NoError(t, d.Stop(2*time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications.WithLabelValues("failed")))
}

func TestDispatcher_EnqueueNotRunning(t *testing.T) {
	d := NewDispatcher(new(MockNotifier), zap.NewNop(), nil, DefaultConfig())
	assert.ErrorIs(t, d.Enqueue(&models.PendingAction{ID: "a-1"}), ErrNotRunning)

	require.NoError(t, d.Start())
	require.NoError(t, d.Stop(time.Second))
	assert.ErrorIs(t, d.Enqueue(&models.PendingAction{ID: "a-2"}), ErrNotRunning)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	metrics := observability.NewMetrics()

	d := NewDispatcher(notifier, zap.NewNop(), metrics, Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, d.Start())

	// the worker takes the first job and blocks, the second fills the buffer
	require.NoError(t, d.Enqueue(&models.PendingAction{ID: "a-1"}))
	require.Eventually(t, func() bool { return d.GetStats().Pending == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Enqueue(&models.PendingAction{ID: "a-2"}))

	assert.ErrorIs(t, d.Enqueue(&models.PendingAction{ID: "a-3"}), ErrBufferFull)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications.WithLabelValues("dropped")))

	close(notifier.release)
	require.NoError(t, d.Stop(2*time.Second))
}

func TestDispatcher_StopTimeout(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	defer close(notifier.release)

	d := NewDispatcher(notifier, zap.NewNop(), nil, Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, d.Start())
	require.NoError(t, d.Enqueue(&models.PendingAction{ID: "a-1"}))

	err := d.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(new(MockNotifier), zap.NewNop(), nil, Config{})
	stats := d.GetStats()

	assert.Equal(t, 256, stats.BufferSize)
	assert.Equal(t, 2, stats.WorkerCount)
}
