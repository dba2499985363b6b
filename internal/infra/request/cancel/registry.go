// Package cancel tracks one cancellation token per logical request key.
package cancel

import (
	"context"
	"sync"
)

// Token is a cancellation handle for one in-flight request.
type Token struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
}

// Key returns the request key the token was registered under.
func (t *Token) Key() string { return t.key }

// Context returns the context the transport call must observe.
func (t *Token) Context() context.Context { return t.ctx }

// Canceled reports whether the token has been signalled.
func (t *Token) Canceled() bool { return t.ctx.Err() != nil }

// Registry maps request keys to their live token.
//
// Registering a key that already has a token replaces the entry without
// cancelling the previous token; only Cancel and CancelAll signal tokens.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Register creates a token derived from parent and records it under key.
func (r *Registry) Register(parent context.Context, key string) *Token {
	ctx, cancel := context.WithCancel(parent)
	t := &Token{key: key, ctx: ctx, cancel: cancel}

	r.mu.Lock()
	r.tokens[key] = t
	r.mu.Unlock()
	return t
}

// Cancel signals the token registered under key and removes it.
// It returns false when no entry exists.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[key]
	if !ok {
		return false
	}
	delete(r.tokens, key)
	t.cancel()
	return true
}

// CancelAll signals every registered token and empties the registry.
// It returns the number of tokens cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.tokens)
	for _, t := range r.tokens {
		t.cancel()
	}
	r.tokens = make(map[string]*Token)
	return n
}

// Settle removes the token's entry and reports whether it was signalled first.
// Once settled, Cancel and CancelAll can no longer reach t.
func (r *Registry) Settle(t *Token) (canceled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.tokens[t.key]; ok && cur == t {
		delete(r.tokens, t.key)
	}
	return t.Canceled()
}

// Release removes the token's entry once its request settled. The entry is
// only removed if it still belongs to t. The token's context is released too.
func (r *Registry) Release(t *Token) {
	if t == nil {
		return
	}

	r.mu.Lock()
	if cur, ok := r.tokens[t.key]; ok && cur == t {
		delete(r.tokens, t.key)
	}
	r.mu.Unlock()

	t.cancel()
}

// Has reports whether key has a live entry.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[key]
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
