package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWorker struct {
	mock.Mock
	died chan struct{}
}

func newMockWorker(pid int) *MockWorker {
	w := &MockWorker{died: make(chan struct{})}
	w.On("PID").Return(pid)
	return w
}

func (m *MockWorker) PID() int { return m.Called().Int(0) }

func (m *MockWorker) Died() <-chan struct{} { return m.died }

func (m *MockWorker) DeathReason() error {
	select {
	case <-m.died:
		return domain.ErrWorkerDied
	default:
		return nil
	}
}

func (m *MockWorker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	args := m.Called(ctx, codecs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Router), args.Error(1)
}

func (m *MockWorker) Close() error { return m.Called().Error(0) }

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) CreateWorker(ctx context.Context, settings ports.WorkerSettings) (ports.Worker, error) {
	args := m.Called(ctx, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Worker), args.Error(1)
}

func TestWorkerPool_RoundRobin(t *testing.T) {
	workers := []ports.Worker{newMockWorker(1), newMockWorker(2), newMockWorker(3)}
	pool := NewWorkerPoolFrom(workers, nil, nil)

	for i := 0; i < 10; i++ {
		var got ports.Worker
		require.NoError(t, pool.Assign(func(w ports.Worker) error {
			got = w
			return nil
		}))
		assert.Equal(t, workers[i%3], got, "call %d", i)
	}
	assert.Equal(t, 3, pool.Size())
}

func TestWorkerPool_FailedAssignReusesSlot(t *testing.T) {
	workers := []ports.Worker{newMockWorker(1), newMockWorker(2)}
	pool := NewWorkerPoolFrom(workers, nil, nil)

	var tried []ports.Worker
	err := pool.Assign(func(w ports.Worker) error {
		tried = append(tried, w)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	require.NoError(t, pool.Assign(func(w ports.Worker) error {
		tried = append(tried, w)
		return nil
	}))
	assert.Equal(t, []ports.Worker{workers[0], workers[0]}, tried)
}

func TestNewWorkerPool_FailureClosesStartedWorkers(t *testing.T) {
	first := newMockWorker(10)
	first.On("Close").Return(nil)

	e := new(MockEngine)
	settings := ports.WorkerSettings{RTCMinPort: 40000, RTCMaxPort: 49999}
	e.On("CreateWorker", mock.Anything, settings).Return(first, nil).Once()
	e.On("CreateWorker", mock.Anything, settings).Return(nil, errors.New("spawn failed")).Once()

	_, err := NewWorkerPool(context.Background(), e, 2, settings, nil, nil)
	require.Error(t, err)
	first.AssertCalled(t, "Close")
	e.AssertExpectations(t)
}

func TestNewWorkerPool_InvalidSize(t *testing.T) {
	_, err := NewWorkerPool(context.Background(), new(MockEngine), 0, ports.WorkerSettings{}, nil, nil)
	assert.Error(t, err)
}

func TestWorkerPool_WatchReportsFirstDeathOnce(t *testing.T) {
	a, b := newMockWorker(1), newMockWorker(2)
	a.On("Close").Return(nil)
	b.On("Close").Return(nil)
	pool := NewWorkerPoolFrom([]ports.Worker{a, b}, nil, nil)
	defer pool.Close()

	var calls atomic.Int32
	dead := make(chan int, 2)
	pool.Watch(func(w ports.Worker) {
		calls.Add(1)
		dead <- w.PID()
	})

	close(b.died)
	select {
	case pid := <-dead:
		assert.Equal(t, 2, pid)
	case <-time.After(time.Second):
		t.Fatal("death not reported")
	}

	close(a.died)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFatalOnDeath_ExitsAfterGrace(t *testing.T) {
	codes := make(chan int, 1)
	handler := FatalOnDeath(10*time.Millisecond, func(code int) { codes <- code }, zapNop())

	start := time.Now()
	handler(newMockWorker(7))

	select {
	case code := <-codes:
		assert.Equal(t, 1, code)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("exit not called")
	}
}
