// Package mockllm provides a scripted backend for exercising the refinement flow without a network.
package mockllm

import (
	"context"
	"sync"

	"github.com/prepcli/prep/models"
)

// Step is one scripted adapter response: either a reply or an error.
type Step struct {
	Reply *models.ProviderReply
	Err   error
}

// Refined scripts a final answer.
func Refined(prompt string) Step {
	return Step{Reply: &models.ProviderReply{RefinedPrompt: prompt}}
}

// Asks scripts a clarification request, optionally with a draft refined prompt.
func Asks(draft string, questions ...string) Step {
	return Step{Reply: &models.ProviderReply{
		RefinedPrompt:      draft,
		NeedsClarification: true,
		Questions:          questions,
	}}
}

// Fails scripts an error of the given kind.
func Fails(provider models.ProviderID, kind models.ErrorKind) Step {
	if kind == models.KindAuthMissing {
		return Step{Err: models.NewAuthMissingError(provider)}
	}
	return Step{Err: models.NewProviderError(kind, provider, nil)}
}

type MockLLMClient struct {
	mu       sync.Mutex
	provider models.ProviderID
	model    string
	steps    []Step
	calls    []models.ProviderCall
}

// NewMockLLMClient plays steps in order. Once exhausted it repeats the last step.
func NewMockLLMClient(provider models.ProviderID, model string, steps ...Step) *MockLLMClient {
	return &MockLLMClient{provider: provider, model: model, steps: steps}
}

func (c *MockLLMClient) ID() models.ProviderID {
	return c.provider
}

func (c *MockLLMClient) Model() string {
	return c.model
}

// Refine records the call and returns the next scripted step.
func (c *MockLLMClient) Refine(ctx context.Context, call models.ProviderCall) (*models.ProviderReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call.Exchanges = append([]models.ClarificationExchange(nil), call.Exchanges...)
	c.calls = append(c.calls, call)

	if err := ctx.Err(); err != nil {
		return nil, models.NewProviderError(models.KindCancelled, c.provider, err)
	}
	if len(c.steps) == 0 {
		return nil, models.NewMalformedResponseError(c.provider, "mock has no scripted reply")
	}

	idx := len(c.calls) - 1
	if idx >= len(c.steps) {
		idx = len(c.steps) - 1
	}
	step := c.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	reply := *step.Reply
	reply.Questions = append([]string(nil), step.Reply.Questions...)
	return &reply, nil
}

// Calls returns a copy of every call received so far.
func (c *MockLLMClient) Calls() []models.ProviderCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ProviderCall(nil), c.calls...)
}

// CallCount is len(Calls()).
func (c *MockLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
