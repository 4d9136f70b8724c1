package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxContextBytes bounds the context blob attached to a request.
const MaxContextBytes = 100 * 1024

var (
	ErrEmptyPrompt     = errors.New("no prompt provided")
	ErrContextTooLarge = fmt.Errorf("context exceeds %d bytes", MaxContextBytes)
)

type OutputFormat string

const (
	OutputText     OutputFormat = "text"
	OutputJSON     OutputFormat = "json"
	OutputMarkdown OutputFormat = "markdown"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	case OutputMarkdown, "md":
		return OutputMarkdown, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected text, json or markdown)", s)
}

// RefinementRequestParams are the raw inputs for NewRefinementRequest.
type RefinementRequestParams struct {
	Prompt   string
	Template string
	Context  string
	Provider ProviderID
	Model    string
	Format   OutputFormat
}

// RefinementRequest is built once per run and cannot be changed afterwards.
type RefinementRequest struct {
	prompt   string
	template string
	context  string
	provider ProviderID
	model    string
	format   OutputFormat
}

func NewRefinementRequest(p RefinementRequestParams) (*RefinementRequest, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len(p.Context) > MaxContextBytes {
		return nil, ErrContextTooLarge
	}
	if p.Provider == "" {
		return nil, errors.New("provider is required")
	}
	if strings.TrimSpace(p.Model) == "" {
		return nil, fmt.Errorf("no model resolved for provider %s", p.Provider)
	}
	format := p.Format
	if format == "" {
		format = OutputText
	}

	return &RefinementRequest{
		prompt:   prompt,
		template: strings.TrimSpace(p.Template),
		context:  p.Context,
		provider: p.Provider,
		model:    strings.TrimSpace(p.Model),
		format:   format,
	}, nil
}

func (r *RefinementRequest) Prompt() string       { return r.prompt }
func (r *RefinementRequest) Template() string     { return r.template }
func (r *RefinementRequest) Context() string      { return r.context }
func (r *RefinementRequest) HasContext() bool     { return r.context != "" }
func (r *RefinementRequest) Provider() ProviderID { return r.provider }
func (r *RefinementRequest) Model() string        { return r.model }
func (r *RefinementRequest) Format() OutputFormat { return r.format }

// ClarificationExchange is one answered follow-up question.
type ClarificationExchange struct {
	Round    int    `json:"round"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ProviderCall is the input of a single adapter invocation.
type ProviderCall struct {
	Request        *RefinementRequest
	ComposedPrompt string
	Exchanges      []ClarificationExchange
}

// ProviderReply is the JSON object every backend is instructed to answer with.
type ProviderReply struct {
	RefinedPrompt      string   `json:"refined_prompt"`
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"questions"`
}

// AsksClarification reports whether the backend wants more input before it can finish.
func (r *ProviderReply) AsksClarification() bool {
	return r.NeedsClarification && len(r.Questions) > 0
}

// RefinementResult is produced once per successful run and is read-only afterwards.
type RefinementResult struct {
	RunID          string                  `json:"runId"`
	OriginalPrompt string                  `json:"originalPrompt"`
	RefinedPrompt  string                  `json:"refinedPrompt"`
	Provider       ProviderID              `json:"provider"`
	Model          string                  `json:"model"`
	Template       string                  `json:"template,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	Clarifications []ClarificationExchange `json:"clarifications,omitempty"`
	Latency        time.Duration           `json:"-"`
	LatencyMs      int64                   `json:"latencyMs"`
	// Partial is set when clarification was skipped and the first draft was accepted.
	Partial          bool     `json:"partial,omitempty"`
	PendingQuestions []string `json:"pendingQuestions,omitempty"`
}

// Rounds counts the distinct clarification rounds recorded on the result.
func (r *RefinementResult) Rounds() int {
	rounds := 0
	for _, ex := range r.Clarifications {
		if ex.Round > rounds {
			rounds = ex.Round
		}
	}
	return rounds
}
