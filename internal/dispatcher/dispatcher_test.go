package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/event"
)

func TestDispatch_RunsHandlersInOrder(t *testing.T) {
	d := New(zap.NewNop())

	var order []string
	d.SubscribeNamed(event.TypeTaskOpened, "first", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "first")
		return nil
	})
	d.SubscribeNamed(event.TypeTaskOpened, "second", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "second")
		return nil
	})

	err := d.Dispatch(context.Background(), event.New(event.TypeTaskOpened, "exp-1", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatch_StopsOnFirstError(t *testing.T) {
	d := New(zap.NewNop())

	boom := errors.New("boom")
	var secondRan bool
	d.SubscribeNamed(event.TypeExpenseApproved, "failing", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.SubscribeNamed(event.TypeExpenseApproved, "after", func(ctx context.Context, evt *event.Event) error {
		secondRan = true
		return nil
	})

	err := d.Dispatch(context.Background(), event.New(event.TypeExpenseApproved, "exp-1", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondRan)
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	d := New(zap.NewNop())

	d.Subscribe(event.TypeTaskDecided, func(ctx context.Context, evt *event.Event) error {
		panic("handler exploded")
	})

	err := d.Dispatch(context.Background(), event.New(event.TypeTaskDecided, "exp-1", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestDispatchAsync_CompletesBeforeClose(t *testing.T) {
	d := New(zap.NewNop())

	var calls atomic.Int32
	d.Subscribe(event.TypeTaskOpened, func(ctx context.Context, evt *event.Event) error {
		calls.Add(1)
		return nil
	})

	d.DispatchAsync(context.Background(), event.New(event.TypeTaskOpened, "exp-1", nil))
	d.DispatchAsync(context.Background(), event.New(event.TypeTaskOpened, "exp-2", nil))

	require.NoError(t, d.Close())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatch_AfterCloseFails(t *testing.T) {
	d := New(zap.NewNop())
	require.NoError(t, d.Close())

	err := d.Dispatch(context.Background(), event.New(event.TypeTaskOpened, "exp-1", nil))
	assert.Error(t, err)
	assert.Error(t, d.Close())
}

func TestDispatch_NoHandlersIsNoop(t *testing.T) {
	d := New(zap.NewNop())
	assert.NoError(t, d.Dispatch(context.Background(), event.New(event.TypeExpenseRejected, "exp-1", nil)))
}
