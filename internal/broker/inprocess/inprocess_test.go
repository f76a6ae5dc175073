package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/broker"
)

func TestEnqueueThenConsumeDeliversTask(t *testing.T) {
	b := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Enqueue(ctx, broker.Task{VideoID: "v1"}))

	out, err := b.Consume(ctx)
	require.NoError(t, err)

	select {
	case task := <-out:
		require.Equal(t, "v1", task.VideoID)
	case <-time.After(time.Second):
		t.Fatal("task was never delivered")
	}
}

func TestEnqueueReturnsErrorWhenQueueIsFull(t *testing.T) {
	b := New(1)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, broker.Task{VideoID: "v1"}))
	err := b.Enqueue(ctx, broker.Task{VideoID: "v2"})
	require.Error(t, err)
}

func TestNewClampsNonPositiveCapacityToOne(t *testing.T) {
	b := New(0)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, broker.Task{VideoID: "v1"}))
	require.Error(t, b.Enqueue(ctx, broker.Task{VideoID: "v2"}))
}

func TestConsumeChannelClosesWhenContextCancelled(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	out, err := b.Consume(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-out:
		require.False(t, ok, "channel should be closed, not yield a task")
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close after context cancellation")
	}
}

func TestCloseIsANoop(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Close())
}
