package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterFanOut(t *testing.T) {
	t.Parallel()
	e := NewEmitter()
	a, cancelA := e.Subscribe()
	b, cancelB := e.Subscribe()
	defer cancelA()
	defer cancelB()

	cs := &ChangeSet{ChangeID: "c1"}
	e.Emit(cs)

	assert.Same(t, cs, <-a)
	assert.Same(t, cs, <-b)
}

func TestEmitterNeverBlocks(t *testing.T) {
	t.Parallel()
	e := NewEmitter()
	ch, cancel := e.Subscribe()
	defer cancel()

	// A subscriber that stops draining loses events instead of stalling
	// the writer.
	for i := 0; i < 100; i++ {
		e.Emit(&ChangeSet{})
	}
	assert.Len(t, ch, 16)
}

func TestEmitterCancel(t *testing.T) {
	t.Parallel()
	e := NewEmitter()
	ch, cancel := e.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	require.False(t, open)

	// Emitting after cancellation must not panic on the closed channel.
	e.Emit(&ChangeSet{})
}
