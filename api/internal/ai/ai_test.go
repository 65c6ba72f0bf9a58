package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	name, model string
	calls       int
	fail        []error
	reply       string
}

func (f *fakeEngine) Name() string  { return f.name }
func (f *fakeEngine) Model() string { return f.model }

func (f *fakeEngine) Generate(_ context.Context, _ Request) (string, error) {
	f.calls++
	if f.calls <= len(f.fail) {
		return "", f.fail[f.calls-1]
	}
	return f.reply, nil
}

func TestEngines(t *testing.T) {
	gem := &fakeEngine{name: "gemini", model: "gemini-2.5-flash"}
	oai := &fakeEngine{name: "openai", model: "gpt-4o-mini"}
	engines := NewEngines(gem, oai)

	t.Run("Should return the default for an empty name", func(t *testing.T) {
		got, err := engines.Get("  ")
		require.NoError(t, err)
		assert.Same(t, gem, got)
	})
	t.Run("Should resolve aliases case-insensitively", func(t *testing.T) {
		got, err := engines.Get("GPT")
		require.NoError(t, err)
		assert.Same(t, oai, got)
	})
	t.Run("Should reject unknown names", func(t *testing.T) {
		_, err := engines.Get("yandex")
		assert.ErrorIs(t, err, ErrUnknownEngine)
	})
	t.Run("Should list names sorted", func(t *testing.T) {
		assert.Equal(t, []string{"gemini", "openai"}, engines.Names())
	})
	t.Run("Should fail without a default", func(t *testing.T) {
		_, err := NewEngines(nil).Get("")
		assert.ErrorIs(t, err, ErrUnknownEngine)
	})
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	transient := errors.New("503 unavailable")

	t.Run("Should retry transient failures", func(t *testing.T) {
		f := &fakeEngine{name: "gemini", fail: []error{transient, transient}, reply: "[]"}
		out, err := WithRetry(f, 3, time.Millisecond, nil).Generate(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "[]", out)
		assert.Equal(t, 3, f.calls)
	})
	t.Run("Should give up after the configured retries", func(t *testing.T) {
		f := &fakeEngine{name: "gemini", fail: []error{transient, transient, transient, transient}}
		_, err := WithRetry(f, 2, time.Millisecond, nil).Generate(ctx, Request{})
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 3, f.calls)
	})
	t.Run("Should not retry permanent failures", func(t *testing.T) {
		perm := fmt.Errorf("%w: 401", ErrPermanent)
		f := &fakeEngine{name: "openai", fail: []error{perm}}
		_, err := WithRetry(f, 3, time.Millisecond, nil).Generate(ctx, Request{})
		assert.ErrorIs(t, err, ErrPermanent)
		assert.Equal(t, 1, f.calls)
	})
	t.Run("Should keep the engine identity", func(t *testing.T) {
		f := &fakeEngine{name: "openai", model: "gpt-4o-mini"}
		wrapped := WithRetry(f, 1, time.Millisecond, nil)
		assert.Equal(t, "openai", wrapped.Name())
		assert.Equal(t, "gpt-4o-mini", wrapped.Model())
	})
}

func TestIsTransient(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, IsTransient(context.Background(), nil))
	assert.False(t, IsTransient(canceled, errors.New("boom")))
	assert.False(t, IsTransient(context.Background(), context.DeadlineExceeded))
	assert.True(t, IsTransient(context.Background(), errors.New("connection reset")))
}
