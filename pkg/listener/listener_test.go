package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListener_HandlesInputsAndKeepsGoingOnError(t *testing.T) {
	in := make(chan int)
	got := make(chan int, 3)
	stopped := false

	l := New(in, func(v int) error {
		got <- v
		if v == 2 {
			return errors.New("boom")
		}
		return nil
	}, func() { stopped = true })
	l.Start(context.Background())

	in <- 1
	in <- 2
	in <- 3
	assert.Equal(t, 1, <-got)
	assert.Equal(t, 2, <-got)
	assert.Equal(t, 3, <-got)

	l.Stop()
	assert.True(t, stopped)

	total, failed := l.Handled()
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, uint64(1), failed)
}

func TestListener_StopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(make(chan struct{}), func(struct{}) error { return nil })
	l.Start(ctx)
	cancel()
	l.Stop()

	total, _ := l.Handled()
	assert.Zero(t, total)
}

func TestListener_StopWithoutStart(t *testing.T) {
	called := false
	l := New(make(chan int), func(int) error { return nil }, func() { called = true })
	l.Stop()
	assert.True(t, called)
}
