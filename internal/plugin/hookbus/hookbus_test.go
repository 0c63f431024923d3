package hookbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin/hookbus"
)

func TestEmitResultsKeepPriorityOrder(t *testing.T) {
	bus := hookbus.New()

	bus.Subscribe("plugin.*", 1, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		return map[string]any{"who": "low"}, nil
	})
	bus.Subscribe("plugin.*", 10, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		return map[string]any{"who": "high"}, nil
	})

	results := bus.Emit(context.Background(), "plugin.loaded", nil)
	require.Len(t, results, 2)
	require.Equal(t, "high", results[0].Payload["who"])
	require.Equal(t, "low", results[1].Payload["who"])
}

func TestEmitRunsHandlersConcurrently(t *testing.T) {
	bus := hookbus.New()
	release := make(chan struct{})

	bus.Subscribe("plugin.*", 1, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		<-release
		return nil, nil
	})
	bus.Subscribe("plugin.*", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		close(release)
		return nil, nil
	})

	done := make(chan struct{})
	go func() {
		bus.Emit(context.Background(), "plugin.loaded", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit did not run handlers concurrently")
	}
}

func TestEmitIgnoresNonMatchingPattern(t *testing.T) {
	bus := hookbus.New()
	called := false
	bus.Subscribe("ticket.*", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	})

	bus.Emit(context.Background(), "plugin.loaded", nil)
	require.False(t, called)
}

func TestSubscribeOnceFiresOnlyOnce(t *testing.T) {
	bus := hookbus.New()
	count := 0
	bus.Subscribe("plugin.loaded", 0, true, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		count++
		return nil, nil
	})

	bus.Emit(context.Background(), "plugin.loaded", nil)
	bus.Emit(context.Background(), "plugin.loaded", nil)
	require.Equal(t, 1, count)
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	bus := hookbus.New()
	called := false
	unsub := bus.Subscribe("plugin.loaded", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	})
	unsub()

	bus.Emit(context.Background(), "plugin.loaded", nil)
	require.False(t, called)
}

func TestEmitUntilFirstStopsAtFirstSuccess(t *testing.T) {
	bus := hookbus.New()
	var ran []string

	bus.Subscribe("plugin.*", 10, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		ran = append(ran, "a")
		return nil, errors.New("boom")
	})
	bus.Subscribe("plugin.*", 5, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		ran = append(ran, "b")
		return map[string]any{"ok": true}, nil
	})
	bus.Subscribe("plugin.*", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		ran = append(ran, "c")
		return nil, nil
	})

	res, ok := bus.EmitUntilFirst(context.Background(), "plugin.loaded", nil)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, ran)
	require.Equal(t, map[string]any{"ok": true}, res.Payload)
}

func TestInterceptorsRunAroundHandler(t *testing.T) {
	bus := hookbus.New()
	var seq []string

	bus.UsePre(func(ctx context.Context, event string, payload map[string]any) bool { seq = append(seq, "pre"); return true })
	bus.UsePost(func(ctx context.Context, event string, payload map[string]any) bool { seq = append(seq, "post"); return true })
	bus.Subscribe("plugin.loaded", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		seq = append(seq, "handler")
		return nil, nil
	})

	bus.Emit(context.Background(), "plugin.loaded", nil)
	require.Equal(t, []string{"pre", "handler", "post"}, seq)
}

func TestPreInterceptorCancelsEvent(t *testing.T) {
	bus := hookbus.New()
	called := false

	bus.UsePre(func(ctx context.Context, event string, payload map[string]any) bool { return false })
	bus.Subscribe("plugin.loaded", 0, false, func(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	})

	results := bus.Emit(context.Background(), "plugin.loaded", nil)
	require.False(t, called)
	require.Len(t, results, 1)
	require.True(t, results[0].Cancelled)
}
