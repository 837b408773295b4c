package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/google/uuid"
)

// Status of a pending approval
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// ErrClosed is returned to waiters when the gate shuts down.
var ErrClosed = fmt.Errorf("approval gate closed")

// ErrTimeout is returned to waiters when no decision arrives in time.
var ErrTimeout = fmt.Errorf("approval timed out")

// PendingApproval is one command awaiting a human decision
type PendingApproval struct {
	ID        string
	Command   string
	Cwd       string
	CreatedAt time.Time

	status   Status
	decision chan bool
	timer    *time.Timer
	failErr  error // set before the decision channel is closed
}

// Gate mediates between the agent loop and the human for command execution.
// Each request gets a single-shot decision channel; Resolve settles it exactly
// once and every later attempt is rejected.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
	timeout time.Duration
	closed  bool
}

// NewGate creates a gate with the given decision timeout. Zero means the
// default of two minutes.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Gate{
		pending: make(map[string]*PendingApproval),
		timeout: timeout,
	}
}

// Request registers a command for approval and returns the pending record.
// The caller is responsible for surfacing it to the user before calling Wait.
func (g *Gate) Request(command, cwd string) (*PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}

	req := &PendingApproval{
		ID:        uuid.NewString(),
		Command:   command,
		Cwd:       cwd,
		CreatedAt: time.Now(),
		status:    StatusRequested,
		decision:  make(chan bool, 1),
	}

	req.timer = time.AfterFunc(g.timeout, func() {
		g.expire(req.ID)
	})

	g.pending[req.ID] = req
	logger.Info("approval: requested %s for %q", req.ID, command)
	return req, nil
}

// Wait blocks until the request is resolved, times out or the context is
// cancelled. Returns the decision.
func (g *Gate) Wait(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	req, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown approval id: %s", id)
	}

	select {
	case approved, open := <-req.decision:
		if !open {
			if req.failErr != nil {
				return false, req.failErr
			}
			return false, ErrTimeout
		}
		return approved, nil
	case <-ctx.Done():
		g.remove(id)
		return false, ctx.Err()
	}
}

// Resolve settles a pending request. The transition REQUESTED -> decision
// happens at most once; a second resolve and an unknown id both error.
func (g *Gate) Resolve(id string, approved bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[id]
	if !ok {
		return fmt.Errorf("unknown approval id: %s", id)
	}
	if req.status != StatusRequested {
		return fmt.Errorf("approval %s already resolved: %s", id, req.status)
	}

	if approved {
		req.status = StatusApproved
	} else {
		req.status = StatusRejected
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	req.decision <- approved
	delete(g.pending, id)

	logger.Info("approval: %s -> %s", id, req.status)
	return nil
}

// Pending returns a snapshot of unresolved requests, oldest first
func (g *Gate) Pending() []*PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*PendingApproval, 0, len(g.pending))
	for _, req := range g.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close fails every unresolved request and refuses further ones. Waiters
// receive ErrTimeout-style channel closure; no goroutine is left blocked.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true

	for id, req := range g.pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.failErr = ErrClosed
		close(req.decision)
		delete(g.pending, id)
		logger.Info("approval: %s dropped at shutdown", id)
	}
}

func (g *Gate) expire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[id]
	if !ok || req.status != StatusRequested {
		return
	}
	req.failErr = ErrTimeout
	close(req.decision)
	delete(g.pending, id)
	logger.Warn("approval: %s timed out after %s", id, time.Since(req.CreatedAt).Round(time.Second))
}

func (g *Gate) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req, ok := g.pending[id]; ok {
		if req.timer != nil {
			req.timer.Stop()
		}
		delete(g.pending, id)
	}
}
