package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	CourseID int64
}

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan int64, 1)
	q := NewQueue("test", func(_ context.Context, job Job[payload]) error {
		done <- job.Payload.CourseID
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[payload]{ID: "job-1", Payload: payload{CourseID: 42}}))

	select {
	case got := <-done:
		require.Equal(t, int64(42), got)
	case <-time.After(time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("retry", func(_ context.Context, job Job[payload]) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[payload]{ID: "job-1"}))

	select {
	case <-done:
		require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
}

func TestQueueRecoversPanics(t *testing.T) {
	done := make(chan struct{})
	var calls int32
	q := NewQueue("panic", func(_ context.Context, job Job[payload]) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("bad payload")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[payload]{ID: "job-1"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job[payload]) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job[payload]{ID: "job-1"}))
}
