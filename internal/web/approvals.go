package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/atelier-dev/atelier/internal/agent"
)

// ApprovalRouter maps approval ids to the controller whose turn is suspended
// on them. Both the websocket path and the REST path resolve through it.
type ApprovalRouter struct {
	mu      sync.Mutex
	targets map[string]*agent.Controller
}

// NewApprovalRouter creates an empty router
func NewApprovalRouter() *ApprovalRouter {
	return &ApprovalRouter{targets: make(map[string]*agent.Controller)}
}

// Register associates an approval id with its suspended controller
func (r *ApprovalRouter) Register(id string, controller *agent.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = controller
}

// Resolve delivers a decision to the owning controller. The id is single-use.
func (r *ApprovalRouter) Resolve(ctx context.Context, id string, approved bool) error {
	r.mu.Lock()
	controller := r.targets[id]
	delete(r.targets, id)
	r.mu.Unlock()

	if controller == nil {
		return fmt.Errorf("no pending approval %s", id)
	}
	return controller.ResumeApproval(ctx, id, approved)
}
