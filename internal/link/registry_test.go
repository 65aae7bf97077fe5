package link

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshbridge/internal/config"
)

type fakeLink struct {
	name string
	err  error
	sent int
}

func (f *fakeLink) Name() string { return f.name }

func (f *fakeLink) Send(ctx context.Context, text string, channel int) error {
	f.sent++
	return f.err
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeLink{name: "lora0"})
	r.Register(&fakeLink{name: "lora1"})
	r.Register(&fakeLink{name: "mqtt"})

	assert.Equal(t, []string{"lora0", "lora1", "mqtt"}, r.Names())
	assert.Equal(t, 3, r.Count())
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeLink{name: "lora0"})
	r.Register(&fakeLink{name: "lora1"})

	replacement := &fakeLink{name: "lora0"}
	r.Register(replacement)

	assert.Equal(t, []string{"lora0", "lora1"}, r.Names())
	got, ok := r.Get("lora0")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestBreakerLink_PassesThrough(t *testing.T) {
	inner := &fakeLink{name: "lora0"}
	bl := WithBreaker(inner, config.CircuitBreakerConfig{})

	require.NoError(t, bl.Send(context.Background(), "hi", 0))
	assert.Equal(t, "lora0", bl.Name())
	assert.Equal(t, 1, inner.sent)
}

func TestBreakerLink_OpensAfterFailures(t *testing.T) {
	inner := &fakeLink{name: "lora0", err: errors.New("radio gone")}
	bl := WithBreaker(inner, config.CircuitBreakerConfig{})

	for i := 0; i < 5; i++ {
		assert.Error(t, bl.Send(context.Background(), "hi", 0))
	}

	// Once open, sends fail without reaching the transport.
	before := inner.sent
	assert.Error(t, bl.Send(context.Background(), "hi", 0))
	assert.Equal(t, before, inner.sent)
}
