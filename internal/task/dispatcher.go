// Package task is the Task Dispatcher & Runner (§4.3): the state machine
// that turns one user message into a streamed AI response, dispatching
// tool calls to the Skill Execution Fabric and billing as it goes.
// Grounded on the teacher's worker-pool dispatch shape
// (internal/signaling's room dispatch, generalized) and on
// original_source's task runner for the QUEUED->RUNNING->STREAMING state
// machine and the two distinct cancellation protocols.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openmates/core/internal/apperr"
	"github.com/openmates/core/internal/conn"
	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/provider"
	"github.com/openmates/core/internal/ratelimit"
	"github.com/openmates/core/internal/skills"
	"github.com/openmates/core/internal/zkstore"
)

var logger = log.New(os.Stdout, "[task] ", log.LstdFlags)

// skillCallsPerWindow/skillCallWindow throttle how often one user can
// invoke the same skill, via the core process's Limiter (§5,
// internal/ratelimit); the Upload Service has no limiter of its own.
const (
	skillCallsPerWindow = 30
	skillCallWindow     = time.Minute
)

// Outcome is DONE/CANCELLED/FAILED's payload; a rate-limited task reports
// ScheduledForRetry instead of an error, an explicit result variant
// rather than an exception (§4.3, §9 redesign note). NextMessages/
// NextSignature carry the continuation state forward into another
// STREAMING turn when Status is TaskStreaming (a tool-call round just
// finished).
type Outcome struct {
	Status            models.TaskStatus
	Err               error
	ScheduledForRetry *RetrySchedule
	NextMessages      []provider.Message
	NextSignature     string
}

// RetrySchedule is returned instead of failing the task outright when the
// provider reports it is rate-limited.
type RetrySchedule struct {
	TaskID   uuid.UUID
	WaitTime time.Duration
}

// runningTask tracks the live state the dispatcher needs to service
// cancellation requests against an in-flight task.
type runningTask struct {
	task          *models.Task
	revoke        context.CancelFunc // whole-task revoke protocol
	skillCancels  map[string]context.CancelFunc // per-skill cancel protocol, keyed by request id
	retryAttempts int
	mu            sync.Mutex
}

// Dispatcher owns every currently-running task for the process. It never
// imports conn.Manager directly: outbound events reach connections only
// through the Redis pub/sub channel conn.Publish writes to, the same
// decoupling Manager itself uses on its subscribing side (§9 redesign
// note — this is the other half of that cut).
type Dispatcher struct {
	store      *zkstore.Store
	rdb        *redis.Client
	registry   *provider.Registry
	skillsExec *skills.Executor
	limiter    *ratelimit.Limiter

	mu      sync.Mutex
	running map[uuid.UUID]*runningTask
}

func NewDispatcher(store *zkstore.Store, rdb *redis.Client, registry *provider.Registry, skillsExec *skills.Executor, limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{
		store:      store,
		rdb:        rdb,
		registry:   registry,
		skillsExec: skillsExec,
		limiter:    limiter,
		running:    make(map[uuid.UUID]*runningTask),
	}
}

// SubmitRequest is what the WS Router hands the dispatcher after decoding
// a message_received event.
type SubmitRequest struct {
	ChatID   uuid.UUID
	UserID   uuid.UUID
	Model    string
	Messages []provider.Message
	Tools    []provider.ToolSchema
	AppTag   string
	PriorSignature string
	ExcludeDeviceHash string

	// ActiveFocusID and ContinuationMessageID apply to the focus-mode
	// rejection race's client-wins path (§4.3, §8 seed test 4): the
	// re-submitted task clears the focus (nil) and carries the id of the
	// task it replaces so the client swaps the same assistant bubble
	// instead of opening a new one.
	ActiveFocusID         *string
	ContinuationMessageID *uuid.UUID
}

// outboundChunk is the wire shape published to sibling devices for each
// StreamChunk, and to the originating device directly.
type outboundChunk struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	Chunk  provider.StreamChunk `json:"chunk"`
}

// Submit starts a new task in the QUEUED state and launches its runner
// goroutine; the returned task id doubles as the eventual assistant
// message id.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	p, ok := d.registry.Resolve(req.Model)
	if !ok {
		return uuid.Nil, apperr.New(apperr.InvalidRequest, fmt.Sprintf("no provider for model %q", req.Model))
	}

	taskID := uuid.New()
	t := &models.Task{
		TaskID:                taskID,
		ChatID:                req.ChatID,
		UserID:                req.UserID,
		AppTag:                req.AppTag,
		Status:                models.TaskQueued,
		ContinuationMessageID: req.ContinuationMessageID,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{task: t, revoke: cancel, skillCancels: make(map[string]context.CancelFunc)}

	d.mu.Lock()
	d.running[taskID] = rt
	d.mu.Unlock()

	if err := d.store.SetActiveAITask(context.Background(), req.ChatID, taskID); err != nil {
		logger.Printf("marking active ai task for chat %s: %v", req.ChatID, err)
	}

	go d.run(runCtx, rt, p, req)

	return taskID, nil
}

// run executes the QUEUED -> RUNNING -> [STREAMING -> TOOL_CALLS? ->
// STREAMING...] -> DONE|CANCELLED|FAILED state machine for one task.
func (d *Dispatcher) run(ctx context.Context, rt *runningTask, p provider.Provider, req SubmitRequest) {
	defer d.cleanup(rt.task.TaskID, req.ChatID)

	rt.task.Status = models.TaskRunning
	messages := req.Messages
	priorSignature := req.PriorSignature

	for {
		outcome := d.runOneTurn(ctx, rt, p, req, messages, priorSignature)

		switch outcome.Status {
		case models.TaskDone, models.TaskCancelled, models.TaskFailed:
			d.publishStatus(req, rt.task.TaskID, outcome)
			return
		}

		if outcome.ScheduledForRetry != nil {
			d.publishRetry(req, *outcome.ScheduledForRetry)
			select {
			case <-ctx.Done():
				d.publishStatus(req, rt.task.TaskID, Outcome{Status: models.TaskCancelled})
				return
			case <-time.After(outcome.ScheduledForRetry.WaitTime):
			}
			continue
		}

		// A tool-call round finished: feed the results back in as the next
		// turn's history and keep streaming.
		messages = outcome.NextMessages
		priorSignature = outcome.NextSignature
	}
}

// runOneTurn streams one provider turn, dispatches any tool calls it
// emits back through the Skill Execution Fabric, and returns either a
// terminal Outcome or a TaskStreaming Outcome whose NextMessages and
// NextSignature feed the next turn of the loop in run.
func (d *Dispatcher) runOneTurn(ctx context.Context, rt *runningTask, p provider.Provider, req SubmitRequest, messages []provider.Message, priorSignature string) Outcome {
	rt.task.Status = models.TaskStreaming

	chunks, errs := p.Stream(ctx, provider.StreamRequest{
		Model:          req.Model,
		Messages:       messages,
		Tools:          req.Tools,
		MaxTokens:      4096,
		PriorSignature: priorSignature,
	})

	var toolCalls []*provider.ToolCall
	var sawUsage bool
	var lastSignature string

	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return Outcome{Status: models.TaskCancelled}

		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			d.publishChunk(req, rt.task.TaskID, c)
			switch c.Type {
			case provider.ChunkToolCall:
				toolCalls = append(toolCalls, c.ToolCall)
			case provider.ChunkUsage:
				sawUsage = true
			case provider.ChunkThinkingSignature:
				lastSignature = c.ThinkingSignature
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if rl, wait := asRateLimit(rt, err); rl {
				return Outcome{ScheduledForRetry: &RetrySchedule{TaskID: rt.task.TaskID, WaitTime: wait}}
			}
			return Outcome{Status: models.TaskFailed, Err: err}
		}
	}

	if len(toolCalls) == 0 {
		if !sawUsage {
			logger.Printf("task %s stream ended without a usage chunk", rt.task.TaskID)
		}
		return Outcome{Status: models.TaskDone}
	}

	nextMessages := d.dispatchToolCalls(ctx, rt, req, messages, toolCalls)
	return Outcome{Status: models.TaskStreaming, NextMessages: nextMessages, NextSignature: lastSignature}
}

// dispatchToolCalls runs every tool call through the Skill Execution
// Fabric and appends the results as tool-result turns, so the next
// provider turn sees them as conversation history.
func (d *Dispatcher) dispatchToolCalls(ctx context.Context, rt *runningTask, req SubmitRequest, messages []provider.Message, calls []*provider.ToolCall) []provider.Message {
	bySkill := make(map[string][]skills.Request)
	for _, c := range calls {
		bySkill[c.Name] = append(bySkill[c.Name], skills.Request{ID: c.ID, Params: json.RawMessage(c.Arguments)})
	}

	idemPrefix := rt.task.TaskID.String()
	next := append([]provider.Message{}, messages...)
	billCtx := withUserIDHash(ctx, models.HashString(req.UserID.String()))

	for skillID, reqs := range bySkill {
		limitKey := fmt.Sprintf("skillfabric:%s:%s", models.HashString(req.UserID.String()), skillID)
		if !d.limiter.Allow(ctx, limitKey, skillCallsPerWindow, skillCallWindow) {
			for _, r := range reqs {
				result := skills.Result{ID: r.ID, Error: fmt.Sprintf("rate limit exceeded for skill %q", skillID)}
				d.publishSkillResult(req, rt.task.TaskID, skillID, result)
				next = append(next, provider.Message{Role: "tool", Content: "error: " + result.Error, ToolCallID: r.ID})
			}
			continue
		}

		rt.mu.Lock()
		results := d.skillsExec.ExecuteAll(billCtx, skillID, reqs, idemPrefix, rt.skillCancels)
		rt.mu.Unlock()

		for _, r := range results {
			d.publishSkillResult(req, rt.task.TaskID, skillID, r)
			content := ""
			switch {
			case r.Content != nil:
				content = *r.Content
			case r.Error != "":
				content = "error: " + r.Error
			}
			next = append(next, provider.Message{Role: "tool", Content: content, ToolCallID: r.ID})
		}
	}
	return next
}

// RevokeTask implements the whole-task cancellation protocol: the task's
// own context is cancelled, stopping its provider stream and every
// in-flight skill request at once. The active_ai_task cache marker is
// cleared synchronously here rather than left to the runner goroutine's
// eventual cleanup, so a caller that immediately re-checks the chat's
// cache sees no in-flight task (§8 seed test 1: within 1500ms of cancel).
func (d *Dispatcher) RevokeTask(taskID uuid.UUID) error {
	d.mu.Lock()
	rt, ok := d.running[taskID]
	d.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "task not found or already finished")
	}
	rt.task.Revoked = true
	if err := d.store.ClearActiveAITask(context.Background(), rt.task.ChatID); err != nil {
		logger.Printf("clearing active ai task for chat %s on revoke: %v", rt.task.ChatID, err)
	}
	rt.revoke()
	return nil
}

// CancelSkill implements the per-skill cancellation protocol: only the
// named request's context is cancelled, its siblings and the task as a
// whole continue.
func (d *Dispatcher) CancelSkill(taskID uuid.UUID, requestID string) error {
	d.mu.Lock()
	rt, ok := d.running[taskID]
	d.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "task not found or already finished")
	}

	rt.mu.Lock()
	cancel, ok := rt.skillCancels[requestID]
	rt.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "no in-flight request with that id")
	}
	cancel()
	return nil
}

func (d *Dispatcher) cleanup(taskID, chatID uuid.UUID) {
	d.mu.Lock()
	delete(d.running, taskID)
	d.mu.Unlock()

	current, err := d.store.GetActiveAITask(context.Background(), chatID)
	if err != nil {
		logger.Printf("reading active ai task for chat %s during cleanup: %v", chatID, err)
		return
	}
	if current == taskID.String() {
		if err := d.store.ClearActiveAITask(context.Background(), chatID); err != nil {
			logger.Printf("clearing active ai task for chat %s: %v", chatID, err)
		}
	}
}

func (d *Dispatcher) publishChunk(req SubmitRequest, taskID uuid.UUID, c provider.StreamChunk) {
	d.publish(req, outboundChunk{Type: "task_stream_chunk", TaskID: taskID.String(), Chunk: c})
}

func (d *Dispatcher) publishStatus(req SubmitRequest, taskID uuid.UUID, o Outcome) {
	payload := map[string]interface{}{
		"type":    "task_status",
		"task_id": taskID.String(),
		"status":  o.Status,
	}
	if o.Err != nil {
		payload["error_kind"] = apperr.KindOf(o.Err)
	}
	d.publish(req, payload)
}

func (d *Dispatcher) publishRetry(req SubmitRequest, rs RetrySchedule) {
	d.publish(req, map[string]interface{}{
		"type":      "task_rate_limited",
		"task_id":   rs.TaskID.String(),
		"wait_time": rs.WaitTime.Seconds(),
	})
}

func (d *Dispatcher) publishSkillResult(req SubmitRequest, taskID uuid.UUID, skillID string, r skills.Result) {
	d.publish(req, map[string]interface{}{
		"type":     "skill_result",
		"task_id":  taskID.String(),
		"skill_id": skillID,
		"result":   r,
	})
}

func (d *Dispatcher) publish(req SubmitRequest, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("marshal outbound event: %v", err)
		return
	}
	if err := conn.Publish(context.Background(), d.rdb, req.UserID, req.ExcludeDeviceHash, raw); err != nil {
		logger.Printf("publishing outbound event: %v", err)
	}
}

// asRateLimit reports whether err is a provider rate-limit signal and, if
// so, how long to wait before retrying: the provider's own retry_after
// when available, otherwise capped exponential backoff from 1s to 60s
// that grows with this task's successive rate-limit attempts.
func asRateLimit(rt *runningTask, err error) (bool, time.Duration) {
	if apperr.KindOf(err) != apperr.ProviderTransient {
		return false, 0
	}
	if wait, ok := apperr.RetryAfterOf(err); ok {
		return true, wait
	}
	rt.mu.Lock()
	rt.retryAttempts++
	attempt := rt.retryAttempts
	rt.mu.Unlock()
	return true, backoff(attempt)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

type userIDHashCtxKey struct{}

// withUserIDHash carries the billing identity of a skill invocation's
// owning task to the Skill Execution Fabric's BillingHook, which only
// receives (ctx, idempotencyKey, skillID, pricing) and has no task context
// of its own.
func withUserIDHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, userIDHashCtxKey{}, hash)
}

// UserIDHashFromContext retrieves the hash withUserIDHash stored, for use
// by a BillingHook implementation.
func UserIDHashFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDHashCtxKey{}).(string)
	return v, ok
}
