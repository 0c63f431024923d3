// Package hookbus is the plugin runtime's publish/subscribe event bus:
// plugins and the host itself emit named events ("plugin.loaded",
// "ticket.created", ...) and subscribers register against glob
// patterns, ordered by priority.
package hookbus

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// HookResult is what a handler returns from Emit.
type HookResult struct {
	Name      string
	Payload   map[string]any
	Err       error
	Duration  time.Duration
	Cancelled bool
}

// HandlerFunc handles one event occurrence.
type HandlerFunc func(ctx context.Context, event string, payload map[string]any) (map[string]any, error)

// InterceptorFunc wraps every handler invocation: pre runs before, post
// runs after (even on error), both given the event and payload. A pre
// interceptor returning false cancels the event: the handler is never
// invoked and no post interceptors run for it.
type InterceptorFunc func(ctx context.Context, event string, payload map[string]any) bool

type subscription struct {
	id       int
	pattern  string
	priority int
	once     bool
	fired    bool
	handler  HandlerFunc
}

// Bus is a priority-ordered, glob-matched pub/sub dispatcher.
type Bus struct {
	mu            sync.Mutex
	subs          []*subscription
	nextID        int
	preHooks      []InterceptorFunc
	postHooks     []InterceptorFunc
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler against pattern (a path.Match-compatible
// glob, e.g. "plugin.*") at priority (higher runs first). once causes
// the subscription to fire at most one time. It returns an unsubscribe
// function.
func (b *Bus) Subscribe(pattern string, priority int, once bool, handler HandlerFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, pattern: pattern, priority: priority, once: once, handler: handler}
	b.subs = append(b.subs, sub)
	sort.SliceStable(b.subs, func(i, j int) bool { return b.subs[i].priority > b.subs[j].priority })

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// UsePre registers an interceptor run before every matching handler.
func (b *Bus) UsePre(fn InterceptorFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preHooks = append(b.preHooks, fn)
}

// UsePost registers an interceptor run after every matching handler.
func (b *Bus) UsePost(fn InterceptorFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postHooks = append(b.postHooks, fn)
}

// Emit runs every non-fired subscription whose pattern matches event in
// parallel, gathering every result. The returned slice keeps priority
// order regardless of which handler finishes first.
func (b *Bus) Emit(ctx context.Context, event string, payload map[string]any) []HookResult {
	matches := b.matching(event)
	results := make([]HookResult, len(matches))

	var wg sync.WaitGroup
	for i, sub := range matches {
		wg.Add(1)
		go func(i int, sub *subscription) {
			defer wg.Done()
			results[i] = b.invoke(ctx, sub, event, payload)
		}(i, sub)
	}
	wg.Wait()

	return results
}

// EmitUntilFirst runs matching subscriptions in priority order and
// stops at the first one to return without error.
func (b *Bus) EmitUntilFirst(ctx context.Context, event string, payload map[string]any) (HookResult, bool) {
	for _, sub := range b.matching(event) {
		res := b.invoke(ctx, sub, event, payload)
		if res.Err == nil {
			return res, true
		}
	}
	return HookResult{}, false
}

// EmitUntilSuccess is an alias for EmitUntilFirst.
func (b *Bus) EmitUntilSuccess(ctx context.Context, event string, payload map[string]any) (HookResult, bool) {
	return b.EmitUntilFirst(ctx, event, payload)
}

func (b *Bus) matching(event string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []*subscription
	var remaining []*subscription
	for _, sub := range b.subs {
		if sub.fired {
			continue
		}
		ok, _ := path.Match(sub.pattern, event)
		if ok {
			matches = append(matches, sub)
			if sub.once {
				sub.fired = true
				continue
			}
		}
		remaining = append(remaining, sub)
	}
	b.subs = remaining
	return matches
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, event string, payload map[string]any) HookResult {
	b.mu.Lock()
	pre := append([]InterceptorFunc{}, b.preHooks...)
	post := append([]InterceptorFunc{}, b.postHooks...)
	b.mu.Unlock()

	for _, hook := range pre {
		if !hook(ctx, event, payload) {
			return HookResult{Name: event, Cancelled: true}
		}
	}

	start := time.Now()
	out, err := sub.handler(ctx, event, payload)
	duration := time.Since(start)

	for _, hook := range post {
		hook(ctx, event, payload)
	}
	return HookResult{Name: event, Payload: out, Err: err, Duration: duration}
}
