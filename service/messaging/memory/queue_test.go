package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/megastructure/coordinator/service/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID    string
	Count int
}

func TestQueue(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()
	payload := testPayload{ID: "test-1", Count: 1}

	require.NoError(t, queue.Publish(ctx, &payload))
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, payload, *message.T())
	assert.NotEmpty(t, message.ID())

	assert.NoError(t, message.Ack())
	assert.Error(t, message.Ack(), "double ack")
}

func TestQueue_Nack(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "a"}))
	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, message.Nack(fmt.Errorf("boom")))
	assert.Equal(t, 1, queue.DLQSize())
	assert.EqualError(t, message.(*Message[testPayload]).Err(), "boom")
	assert.Error(t, message.Nack(nil))
}

func TestQueue_Backpressure(t *testing.T) {
	queue := NewQueue[testPayload](Config{QueueBuffer: 2})
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "1"}))
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "2"}))

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := queue.Publish(timeoutCtx, &testPayload{ID: "3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "full queue blocks the publisher")

	published := make(chan error, 1)
	go func() { published <- queue.Publish(ctx, &testPayload{ID: "3"}) }()
	_, err = queue.Consume(ctx)
	require.NoError(t, err)
	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher not released")
	}
	assert.Equal(t, 2, queue.Size())
}

func TestQueue_Close(t *testing.T) {
	queue := NewQueue[testPayload](Config{QueueBuffer: 4})
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "buffered"}))
	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())

	assert.ErrorIs(t, queue.Publish(ctx, &testPayload{}), messaging.ErrClosed)
	message, err := queue.Consume(ctx)
	require.NoError(t, err, "buffered messages survive close")
	assert.Equal(t, "buffered", message.T().ID)
	_, err = queue.Consume(ctx)
	assert.ErrorIs(t, err, messaging.ErrClosed)
}

func TestQueue_CloseReleasesConsumers(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := queue.Consume(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, queue.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, messaging.ErrClosed)
	}
}

func TestQueue_Concurrency(t *testing.T) {
	queue := NewQueue[testPayload](Config{QueueBuffer: 8})
	ctx := context.Background()
	const producers, perProducer = 10, 10

	var consumed sync.Map
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(2)
		go func(producer int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				assert.NoError(t, queue.Publish(ctx, &testPayload{ID: fmt.Sprintf("p%d-m%d", producer, j)}))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				message, err := queue.Consume(ctx)
				if !assert.NoError(t, err) {
					return
				}
				_, dup := consumed.LoadOrStore(message.T().ID, true)
				assert.False(t, dup)
				assert.NoError(t, message.Ack())
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out")
	}
	count := 0
	consumed.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, producers*perProducer, count)
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_ContextCancellation(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, queue.Publish(ctx, &testPayload{}))

	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelTimeout()
	_, err := queue.Consume(timeoutCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
