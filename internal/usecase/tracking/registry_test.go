package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusive(t *testing.T) {
	reg := NewRegistry()
	called := false

	err := reg.Exclusive(context.Background(), func(*State) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestExclusive_DoneContext(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reg.Exclusive(ctx, func(*State) error {
		t.Fatal("fn must not run on a done context")
		return nil
	})

	assert.True(t, errors.Is(err, context.Canceled))
}
