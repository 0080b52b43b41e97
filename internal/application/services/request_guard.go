package services

import (
	"context"
	"sync"
)

// RequestGuard tracks the in-flight request of each client. Starting a new
// request for a client cancels the previous one and marks it superseded.
type RequestGuard struct {
	mu     sync.Mutex
	next   uint64
	active map[string]*GuardedRequest
}

// GuardedRequest is one request registered with a RequestGuard.
type GuardedRequest struct {
	ctx        context.Context
	cancel     context.CancelFunc
	guard      *RequestGuard
	clientID   string
	generation uint64
	superseded bool
}

// NewRequestGuard creates an empty guard
func NewRequestGuard() *RequestGuard {
	return &RequestGuard{active: make(map[string]*GuardedRequest)}
}

// Begin registers a request for clientID. An empty clientID is never superseded.
func (g *RequestGuard) Begin(ctx context.Context, clientID string) *GuardedRequest {
	ctx, cancel := context.WithCancel(ctx)
	req := &GuardedRequest{ctx: ctx, cancel: cancel, guard: g, clientID: clientID}
	if clientID == "" {
		return req
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	req.generation = g.next
	if prev, ok := g.active[clientID]; ok {
		prev.superseded = true
		prev.cancel()
	}
	g.active[clientID] = req
	return req
}

// Context is cancelled when the request finishes or a newer one starts.
func (r *GuardedRequest) Context() context.Context {
	return r.ctx
}

// Superseded reports whether a newer request from the same client started.
func (r *GuardedRequest) Superseded() bool {
	if r.clientID == "" {
		return false
	}
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	return r.superseded
}

// Done releases the request.
func (r *GuardedRequest) Done() {
	r.cancel()
	if r.clientID == "" {
		return
	}
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	if cur, ok := r.guard.active[r.clientID]; ok && cur.generation == r.generation {
		delete(r.guard.active, r.clientID)
	}
}

// InFlight returns the number of clients with an active request.
func (g *RequestGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
