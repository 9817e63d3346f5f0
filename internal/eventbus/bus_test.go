package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinged struct{ N int }
type ponged struct{}

func TestPublishDispatchesByType(t *testing.T) {
	bus := New(nil)
	var got []int
	SubscribeTo(bus, func(_ context.Context, e pinged) error {
		got = append(got, e.N)
		return nil
	})
	bus.Subscribe(TypeOfT[ponged](), func(context.Context, any) error {
		t.Fatal("wrong handler")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), pinged{N: 1}))
	require.NoError(t, bus.Publish(context.Background(), &pinged{N: 2}))
	assert.Equal(t, []int{1, 2}, got)
}

func TestPublishRunsAllHandlersAndReturnsFirstError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := New(logger)
	boom := errors.New("boom")
	calls := 0
	bus.Subscribe(TypeOfT[pinged](), func(context.Context, any) error { calls++; return boom })
	bus.Subscribe(TypeOfT[pinged](), func(context.Context, any) error { calls++; panic("bad") })
	bus.Subscribe(TypeOfT[pinged](), func(context.Context, any) error { calls++; return nil })

	err := bus.Publish(context.Background(), pinged{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPublishNil(t *testing.T) {
	assert.ErrorIs(t, New(nil).Publish(context.Background(), nil), ErrNilEvent)
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "eventbus.pinged", TypeOf(pinged{}))
	assert.Equal(t, "eventbus.pinged", TypeOf(&pinged{}))
	assert.Equal(t, "eventbus.pinged", TypeOfT[pinged]())
}
