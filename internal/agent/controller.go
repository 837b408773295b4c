package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/atelier-dev/atelier/internal/approval"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/tools"
)

// retryBudget bounds how often an all-tools-errored round may be retried with
// a corrective note before the turn is ended.
const retryBudget = 2

// Emitter receives loop events for delivery to the front-end. Implementations
// must be safe for calls from the loop goroutine.
type Emitter interface {
	Content(delta string)
	ToolCallAnnounced(name, arguments string)
	ToolStepResult(name string, ok bool, message string)
	ApprovalRequired(id, command, cwd string)
	Done(stats *session.Stats)
	Error(message string)
}

// pendingTurn carries the state of a turn suspended on an approval decision.
type pendingTurn struct {
	approvalID string
	call       llm.ToolCall
	params     map[string]interface{}
	skipped    []llm.ToolCall
	roundsUsed int
}

// Controller drives the tool-calling loop for one conversation: stream a
// model response, execute requested tools, feed results back, repeat until
// the model stops asking or the round cap is hit. One turn runs at a time.
type Controller struct {
	cfg      *config.Config
	client   llm.Client
	registry *tools.Registry
	gate     *approval.Gate
	sess     *session.Session
	store    session.Store
	emitter  Emitter

	turnMu sync.Mutex

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	pending    *pendingTurn
}

// NewController wires a controller for one session
func NewController(cfg *config.Config, client llm.Client, registry *tools.Registry, gate *approval.Gate, sess *session.Session, store session.Store, emitter Emitter) *Controller {
	return &Controller{
		cfg:      cfg,
		client:   client,
		registry: registry,
		gate:     gate,
		sess:     sess,
		store:    store,
		emitter:  emitter,
	}
}

// Session returns the controller's session
func (c *Controller) Session() *session.Session {
	return c.sess
}

// ProcessMessage runs one full turn for a user message. It blocks until the
// turn ends: the model converged, the round cap was hit, an approval is
// pending, or the turn was stopped.
func (c *Controller) ProcessMessage(ctx context.Context, text string) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer c.clearCancel()

	c.sess.ResetStats()
	c.sess.AddMessage(&llm.Message{Role: "user", Content: text})

	c.runRounds(turnCtx, 0, retryBudget)
	c.persist()
}

// ResumeApproval re-enters a turn suspended on an approval decision.
func (c *Controller) ResumeApproval(ctx context.Context, approvalID string, approved bool) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending == nil || pending.approvalID != approvalID {
		return fmt.Errorf("no pending approval with id %s", approvalID)
	}

	// Settle the gate record; an already-expired entry is not fatal here,
	// the decision below still stands for this turn.
	if err := c.gate.Resolve(approvalID, approved); err != nil {
		logger.Warn("agent: gate resolve for %s: %v", approvalID, err)
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer c.clearCancel()

	if approved {
		result := c.registry.Execute(turnCtx, pending.call.ID, pending.call.Function.Name, pending.params)
		c.recordStep(pending.call.Function.Name, result)
		c.appendToolMessage(pending.call, result.Text())
	} else {
		c.sess.RecordToolCall(pending.call.Function.Name, "rejected", pending.call.Function.Arguments)
		c.emitter.ToolStepResult(pending.call.Function.Name, false, "rejected by user")
		c.appendToolMessage(pending.call, "error: the user rejected this command; it was not executed")
	}

	// Calls queued after the gated command never started; tell the model so
	// it can re-issue them if still needed.
	for _, call := range pending.skipped {
		c.appendToolMessage(call, "error: not executed; a preceding command required approval")
	}

	if !approved {
		c.emitter.Done(c.sess.StatsSnapshot())
		c.persist()
		return nil
	}

	c.sess.AddMessage(&llm.Message{
		Role:    "system",
		Content: "The user approved the command and it has been executed. Continue with the result above.",
	})
	c.runRounds(turnCtx, pending.roundsUsed, retryBudget)
	c.persist()
	return nil
}

// Stop cancels the in-flight turn. In-flight tool executions are abandoned and
// their results discarded; no error event is emitted for the cancellation.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelTurn = cancel
	c.mu.Unlock()
}

func (c *Controller) clearCancel() {
	c.mu.Lock()
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.mu.Unlock()
}

func (c *Controller) runRounds(ctx context.Context, roundsUsed, retriesLeft int) {
	for round := roundsUsed + 1; round <= c.cfg.MaxRounds; round++ {
		result, err := c.streamRound(ctx, round)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("agent: turn cancelled in round %d", round)
				return
			}
			logger.Error("agent: round %d failed: %v", round, err)
			c.emitter.Error(err.Error())
			return
		}

		c.sess.AddMessage(&llm.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		if !result.HasToolCalls() {
			c.emitter.Done(c.sess.StatsSnapshot())
			return
		}

		outcome := c.executeBatch(ctx, round, result)
		switch {
		case outcome.cancelled:
			return
		case outcome.awaitingApproval:
			// Turn ends here; ResumeApproval picks it back up.
			c.persist()
			return
		case outcome.allErrored:
			if retriesLeft == 0 {
				logger.Warn("agent: retry budget exhausted in round %d", round)
				c.emitter.Done(c.sess.StatsSnapshot())
				return
			}
			retriesLeft--
			c.sess.AddMessage(&llm.Message{
				Role:    "system",
				Content: "Every tool call in the previous step failed. Review the error messages, correct the arguments and try a different approach.",
			})
		}
	}

	logger.Warn("agent: round cap (%d) reached, surfacing partial result", c.cfg.MaxRounds)
	c.emitter.Done(c.sess.StatsSnapshot())
}

func (c *Controller) streamRound(ctx context.Context, round int) (*llm.StreamResult, error) {
	messages := c.sess.ContextWindow(c.cfg.ContextMessageLimit)
	systemPrompt := c.systemPrompt()

	estimate, approx := llm.EstimateContextTokens(c.client.ModelName(), systemPrompt, messages)
	logger.Debug("agent: round %d, %d context messages, ~%d tokens (approx=%v)", round, len(messages), estimate, approx)

	request := &llm.ChatRequest{
		Messages:    append([]*llm.Message{{Role: "system", Content: systemPrompt}}, messages...),
		Tools:       c.registry.ToJSONSchema(),
		Temperature: c.cfg.Model.Temperature,
		MaxTokens:   c.cfg.Model.MaxTokens,
	}

	return c.client.Stream(ctx, request, func(delta string) error {
		c.emitter.Content(delta)
		return nil
	})
}

type batchOutcome struct {
	cancelled        bool
	awaitingApproval bool
	allErrored       bool
}

// executeBatch runs one round's tool calls. Valid calls run concurrently and
// are awaited together; the first gated command suspends the turn and calls
// after it never start.
func (c *Controller) executeBatch(ctx context.Context, round int, result *llm.StreamResult) batchOutcome {
	calls := result.ToolCalls

	// A gated command splits the batch.
	gateIdx := -1
	if !c.cfg.Autopilot {
		for i, call := range calls {
			if c.isGated(call.Function.Name) {
				gateIdx = i
				break
			}
		}
	}

	runnable := calls
	if gateIdx >= 0 {
		runnable = calls[:gateIdx]
	}

	for _, call := range runnable {
		c.emitter.ToolCallAnnounced(call.Function.Name, call.Function.Arguments)
	}

	results := make([]*tools.ToolResult, len(runnable))
	var wg sync.WaitGroup
	for i, call := range runnable {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			params, err := tools.ParseArguments(call.Function.Arguments)
			if err != nil {
				results[i] = tools.Errorf(tools.ErrKindParse, "%v", err)
				results[i].ID = call.ID
				return
			}
			results[i] = c.registry.Execute(ctx, call.ID, call.Function.Name, params)
		}(i, call)
	}
	wg.Wait()

	if ctx.Err() != nil {
		// Stopped mid-batch: discard everything this round produced.
		logger.Info("agent: batch discarded after cancellation in round %d", round)
		return batchOutcome{cancelled: true}
	}

	succeeded := 0
	for i, call := range runnable {
		res := results[i]
		c.recordStep(call.Function.Name, res)
		c.appendToolMessage(call, res.Text())
		if res.Success {
			succeeded++
		}
	}

	// Invalid calls (arguments never became valid JSON) answer with a
	// per-call parse error so the model can correct itself.
	for _, invalid := range result.InvalidCalls {
		c.sess.RecordToolCall(invalid.Name, "error", invalid.Err.Error())
		c.emitter.ToolStepResult(invalid.Name, false, "invalid arguments")
		c.sess.AddMessage(&llm.Message{
			Role:       "tool",
			ToolCallID: invalid.ID,
			Name:       invalid.Name,
			Content:    fmt.Sprintf("error: tool arguments were not valid JSON: %v", invalid.Err),
		})
	}

	if gateIdx >= 0 {
		return c.suspendOnApproval(round, calls[gateIdx], calls[gateIdx+1:])
	}

	allErrored := succeeded == 0 && len(runnable)+len(result.InvalidCalls) > 0
	return batchOutcome{allErrored: allErrored}
}

func (c *Controller) suspendOnApproval(round int, call llm.ToolCall, skipped []llm.ToolCall) batchOutcome {
	params, err := tools.ParseArguments(call.Function.Arguments)
	if err != nil {
		// Unparseable gated call: answer it like any parse failure.
		c.appendToolMessage(call, fmt.Sprintf("error: tool arguments were not valid JSON: %v", err))
		for _, s := range skipped {
			c.appendToolMessage(s, "error: not executed; a preceding command failed to parse")
		}
		return batchOutcome{allErrored: true}
	}

	command := tools.GetStringParam(params, "command", "")
	cwd := c.cfg.WorkspaceDir
	if tool, ok := c.registry.Get(call.Function.Name); ok {
		if rc, ok := tool.(*tools.RunCommandTool); ok {
			if resolved, err := rc.ResolveCwd(params); err == nil {
				cwd = resolved
			}
		}
	}

	req, err := c.gate.Request(command, cwd)
	if err != nil {
		c.appendToolMessage(call, fmt.Sprintf("error: approval unavailable: %v", err))
		for _, s := range skipped {
			c.appendToolMessage(s, "error: not executed; a preceding command could not be approved")
		}
		return batchOutcome{allErrored: true}
	}

	c.mu.Lock()
	c.pending = &pendingTurn{
		approvalID: req.ID,
		call:       call,
		params:     params,
		skipped:    skipped,
		roundsUsed: round,
	}
	c.mu.Unlock()

	// The event goes out after the pending record exists, so a fast
	// decision can always find it.
	c.emitter.ApprovalRequired(req.ID, command, cwd)
	logger.Info("agent: turn suspended on approval %s (round %d)", req.ID, round)
	return batchOutcome{awaitingApproval: true}
}

func (c *Controller) isGated(name string) bool {
	tool, ok := c.registry.Get(name)
	if !ok {
		return false
	}
	gated, ok := tool.(tools.ApprovalRequired)
	return ok && gated.RequiresApproval()
}

func (c *Controller) recordStep(name string, res *tools.ToolResult) {
	status := "success"
	message := res.Message
	if !res.Success {
		status = "error"
		message = res.Error
		if res.ErrorKind == tools.ErrKindCancelled {
			status = "cancelled"
		}
	}
	c.sess.RecordToolCall(name, status, message)
	c.emitter.ToolStepResult(name, res.Success, message)
}

func (c *Controller) appendToolMessage(call llm.ToolCall, content string) {
	c.sess.AddMessage(&llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Content:    content,
	})
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(c.sess); err != nil {
		logger.Warn("agent: session save failed: %v", err)
	}
}

func (c *Controller) systemPrompt() string {
	return fmt.Sprintf(`You are a coding assistant working inside the workspace %s.

Use the available tools to inspect and modify the workspace. Read files before
editing them. Prefer edit_file for targeted changes and write_file for new
files. Shell commands require user approval; keep them short and
non-interactive. When the task is complete, answer without calling tools.`, c.cfg.WorkspaceDir)
}
