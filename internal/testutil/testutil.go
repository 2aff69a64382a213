// Package testutil provides fakes and fixtures shared by the planner's
// package tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrGSommer/vacation-planner-sub001/internal/llm"
)

// ErrNoReply is returned when a ScriptedProvider runs out of replies.
var ErrNoReply = errors.New("scripted provider: no reply queued")

// Reply is one scripted model response. A non-nil Err is returned instead
// of a response.
type Reply struct {
	Content      string
	FinishReason string
	Err          error
}

// Call records a request the provider received.
type Call struct {
	Messages []llm.Message
	Options  llm.Options
}

// ScriptedProvider is a deterministic llm.Provider. Replies queued for a
// purpose are served first; otherwise the shared queue is used in order.
type ScriptedProvider struct {
	mu        sync.Mutex
	queue     []Reply
	byPurpose map[string][]Reply
	calls     []Call
	block     chan struct{}
}

var _ llm.Provider = (*ScriptedProvider)(nil)

// NewScriptedProvider returns a provider that answers with replies in order.
func NewScriptedProvider(replies ...Reply) *ScriptedProvider {
	return &ScriptedProvider{queue: replies, byPurpose: make(map[string][]Reply)}
}

func (p *ScriptedProvider) Name() string    { return "scripted" }
func (p *ScriptedProvider) Available() bool { return true }

// Push appends replies to the shared queue.
func (p *ScriptedProvider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, replies...)
}

// PushFor queues replies served only to calls with the given purpose.
func (p *ScriptedProvider) PushFor(purpose string, replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byPurpose[purpose] = append(p.byPurpose[purpose], replies...)
}

// Block makes every call wait until the returned release function runs or
// the call's context ends.
func (p *ScriptedProvider) Block() (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.block = ch
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (p *ScriptedProvider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Messages: append([]llm.Message(nil), messages...), Options: opts})
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var r Reply
	if q := p.byPurpose[opts.Purpose]; len(q) > 0 {
		r, p.byPurpose[opts.Purpose] = q[0], q[1:]
	} else if len(p.queue) > 0 {
		r, p.queue = p.queue[0], p.queue[1:]
	} else {
		return nil, fmt.Errorf("%w (purpose %q)", ErrNoReply, opts.Purpose)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	finish := r.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return &llm.Response{
		Content:      r.Content,
		FinishReason: finish,
		PromptTokens: int64(len(messages)),
		OutputTokens: int64(len(strings.Fields(r.Content))),
	}, nil
}

// Calls returns the requests received so far.
func (p *ScriptedProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Pending reports how many queued replies have not been served.
func (p *ScriptedProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	for _, q := range p.byPurpose {
		n += len(q)
	}
	return n
}

// Fenced renders v as a fenced JSON block.
func Fenced(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "```json\n" + string(data) + "\n```"
}

// JSONReply answers with v as a fenced JSON block.
func JSONReply(v any) Reply {
	return Reply{Content: Fenced(v)}
}

// TurnReply answers a dialogue turn with text followed by its metadata block.
func TurnReply(text string, readyToPlan bool, questions ...string) Reply {
	if questions == nil {
		questions = []string{}
	}
	meta := map[string]any{
		"ready_to_plan":       readyToPlan,
		"suggested_questions": questions,
		"form_options":        []any{},
		"agent_action":        nil,
	}
	return Reply{Content: text + "\n\n" + Fenced(meta)}
}

// ErrorReply fails the call with err.
func ErrorReply(err error) Reply {
	return Reply{Err: err}
}

// Overloaded is the provider error for an overloaded upstream.
func Overloaded() error {
	return &llm.APIError{StatusCode: llm.StatusOverloaded, Message: "overloaded"}
}
