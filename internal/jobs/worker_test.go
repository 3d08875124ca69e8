package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type countingProcessor struct {
	calls atomic.Int32
	err   error
}

func (p *countingProcessor) ProcessJobs(context.Context) error {
	p.calls.Add(1)
	return p.err
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond, WithName("expiry"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_RunAtStart(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker(processor, time.Hour, WithRunAtStart())

	go worker.Start(context.Background())

	assert.Eventually(t, func() bool { return processor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	worker.Stop()
	worker.Stop()
	assert.Equal(t, int32(1), processor.calls.Load())
}

func TestWorker_KeepsPollingAfterErrors(t *testing.T) {
	processor := &countingProcessor{err: errors.New("database unavailable")}
	worker := NewWorker(processor, 10*time.Millisecond)

	go worker.Start(context.Background())

	assert.Eventually(t, func() bool { return processor.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	worker.Stop()
}
