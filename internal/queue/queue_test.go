package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := NewInMemoryQueue()

	require.NoError(t, q.Push(&Task{ID: "a", Trigger: TriggerSchedule}))
	require.NoError(t, q.Push(&Task{ID: "b", Trigger: TriggerSchedule}))
	require.NoError(t, q.Push(&Task{ID: "c", Trigger: TriggerManual, Priority: 10}))
	require.NoError(t, q.Push(&Task{ID: "d", Trigger: TriggerSchedule}))
	assert.Equal(t, 4, q.Size())

	ctx := context.Background()
	var order []string
	for i := 0; i < 4; i++ {
		task, err := q.Pop(ctx)
		require.NoError(t, err)
		order = append(order, task.ID)
	}

	assert.Equal(t, []string{"c", "a", "b", "d"}, order)
	assert.Zero(t, q.Size())
}

func TestPushSetsCreatedAt(t *testing.T) {
	q := NewInMemoryQueue()
	task := &Task{ID: "a"}

	require.NoError(t, q.Push(task))
	assert.False(t, task.CreatedAt.IsZero())
}

func TestPushDuplicate(t *testing.T) {
	q := NewInMemoryQueue()

	require.NoError(t, q.Push(&Task{ID: "a"}))
	assert.ErrorIs(t, q.Push(&Task{ID: "a"}), ErrDuplicate)
	assert.Equal(t, 1, q.Size())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()
	got := make(chan *Task)

	go func() {
		task, err := q.Pop(context.Background())
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "late"}))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after push")
	}
}

func TestPopContextCancelled(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "queued"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(&Task{ID: "rejected"}), ErrQueueClosed)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseWakesBlockedPop(t *testing.T) {
	q := NewInMemoryQueue()
	errs := make(chan error)

	go func() {
		_, err := q.Pop(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
}
