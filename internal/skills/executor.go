package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

var logger = log.New(os.Stdout, "[skills] ", log.LstdFlags)

// Request is one entry of the inbound "requests: [...]" array; ID is
// auto-injected by the caller (the tool-call decoder) if the model didn't
// supply one, so results always correlate back to requests.
type Request struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Result is what a skill invocation returns for one request. Content is
// nil for a blocked request (sanitization rejected it outright) and an
// empty string for a failed one (ran, produced nothing) — those two are
// distinguished so the runner reports the right failure mode (§4.5).
type Result struct {
	ID      string `json:"id"`
	Content *string `json:"content"`
	Error   string  `json:"error,omitempty"`
}

// Skill is implemented once per concrete capability (e.g. transcript).
// Execute must return promptly after ctx is cancelled — per-request
// cancellation is distinct from whole-task revoke (§4.3/§4.5): cancelling
// one request's context must not stop its siblings.
type Skill interface {
	ID() string
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// Sanitizer inspects a skill's raw output before it is returned to the
// model; returning (nil, nil) marks the request blocked, ("", nil) marks
// it as having failed with no content.
type Sanitizer func(content string) (*string, error)

// BillingHook is called once per successful request, keyed by an
// idempotency key so a retried charge never double-bills.
type BillingHook func(ctx context.Context, idempotencyKey, skillID string, pricing Pricing) error

// Executor runs one or more skills against a request array.
type Executor struct {
	skills    map[string]Skill
	pricing   map[string]Pricing
	sanitize  Sanitizer
	bill      BillingHook
}

func NewExecutor(sanitize Sanitizer, bill BillingHook) *Executor {
	return &Executor{
		skills:  make(map[string]Skill),
		pricing: make(map[string]Pricing),
		sanitize: sanitize,
		bill:    bill,
	}
}

func (e *Executor) Register(s Skill, pricing Pricing) {
	e.skills[s.ID()] = s
	e.pricing[s.ID()] = pricing
}

// ExecuteAll runs every request against skillID in parallel, each with its
// own cancellable context so a per-request cancel (cancel_skill) never
// touches its siblings. taskIdempotencyPrefix scopes the billing
// idempotency key to this task so a crash-and-resume never double-charges.
func (e *Executor) ExecuteAll(ctx context.Context, skillID string, reqs []Request, taskIdempotencyPrefix string, cancels map[string]context.CancelFunc) []Result {
	skill, ok := e.skills[skillID]
	if !ok {
		out := make([]Result, len(reqs))
		for i, r := range reqs {
			out[i] = Result{ID: r.ID, Error: fmt.Sprintf("unknown skill %q", skillID)}
		}
		return out
	}
	pricing := e.pricing[skillID]

	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, r := range reqs {
		i, r := i, r
		reqCtx, cancel := context.WithCancel(ctx)
		if cancels != nil {
			cancels[r.ID] = cancel
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			results[i] = e.runOne(reqCtx, skill, skillID, r, pricing, taskIdempotencyPrefix)
		}()
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, skill Skill, skillID string, r Request, pricing Pricing, idemPrefix string) Result {
	raw, err := skill.Execute(ctx, r.Params)
	if err != nil {
		if ctx.Err() != nil {
			return Result{ID: r.ID, Error: "cancelled"}
		}
		return Result{ID: r.ID, Error: err.Error()}
	}

	content := &raw
	if e.sanitize != nil {
		sanitized, err := e.sanitize(raw)
		if err != nil {
			return Result{ID: r.ID, Error: fmt.Sprintf("sanitization failed: %v", err)}
		}
		content = sanitized
	}
	if content == nil {
		logger.Printf("request %s blocked by sanitizer for skill %s", r.ID, skillID)
		return Result{ID: r.ID, Content: nil}
	}

	if e.bill != nil {
		idemKey := idemPrefix + ":" + skillID + ":" + r.ID
		if err := e.bill(ctx, idemKey, skillID, pricing); err != nil {
			logger.Printf("billing hook failed for %s: %v", idemKey, err)
		}
	}
	return Result{ID: r.ID, Content: content}
}
