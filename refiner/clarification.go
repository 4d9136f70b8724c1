package refiner

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/prepcli/prep/models"
)

// DefaultMaxRounds is the clarification round limit when none is configured.
const DefaultMaxRounds = 3

// State is a step of the clarification state machine.
type State int

const (
	AwaitingSubmission State = iota
	AwaitingClarification
	Resolved
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingSubmission:
		return "AwaitingSubmission"
	case AwaitingClarification:
		return "AwaitingClarification"
	case Resolved:
		return "Resolved"
	case Aborted:
		return "Aborted"
	}
	return "Unknown"
}

// Question is a follow-up question presented to an AnswerSource.
type Question struct {
	Round int
	Index int
	Total int
	Text  string
}

// AnswerSource supplies answers to clarification questions. An empty answer or ErrDeclined
// means the question is declined.
type AnswerSource interface {
	Answer(ctx context.Context, q Question) (string, error)
}

// ScriptedAnswers answers questions in order from a fixed list and declines once it runs out.
type ScriptedAnswers struct {
	answers []string
	next    int
}

func NewScriptedAnswers(answers ...string) *ScriptedAnswers {
	return &ScriptedAnswers{answers: answers}
}

func (s *ScriptedAnswers) Answer(_ context.Context, _ Question) (string, error) {
	if s.next >= len(s.answers) {
		return "", ErrDeclined
	}
	a := s.answers[s.next]
	s.next++
	return a, nil
}

// DeclineAll is the answer source for non-interactive runs.
type DeclineAll struct{}

func (DeclineAll) Answer(context.Context, Question) (string, error) {
	return "", ErrDeclined
}

// ControllerOptions tune a Controller.
type ControllerOptions struct {
	MaxRounds int
	// AcceptDraftOnDecline resolves with the backend's draft, if it sent one, instead of
	// aborting when a question is declined.
	AcceptDraftOnDecline bool
	Logger               *zap.Logger
}

// Outcome is what a resolved clarification loop produced.
type Outcome struct {
	RefinedPrompt string
	Exchanges     []models.ClarificationExchange
	Calls         int
	Partial       bool
	// Pending holds the questions left unanswered when a draft was accepted.
	Pending []string
}

// Controller drives one request through submissions and clarification rounds. It is
// single-use and strictly sequential.
type Controller struct {
	provider  Provider
	answers   AnswerSource
	opts      ControllerOptions
	logger    *zap.Logger
	state     State
	rounds    int
	calls     int
	exchanges []models.ClarificationExchange
}

func NewController(provider Provider, answers AnswerSource, opts ControllerOptions) *Controller {
	if opts.MaxRounds < 1 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if answers == nil {
		answers = DeclineAll{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		provider: provider,
		answers:  answers,
		opts:     opts,
		logger:   logger,
		state:    AwaitingSubmission,
	}
}

func (c *Controller) State() State { return c.state }

// Rounds is the number of completed clarification rounds.
func (c *Controller) Rounds() int { return c.rounds }

// Calls is the number of adapter invocations made so far.
func (c *Controller) Calls() int { return c.calls }

// Exchanges returns a copy of the answered questions so far.
func (c *Controller) Exchanges() []models.ClarificationExchange {
	return append([]models.ClarificationExchange(nil), c.exchanges...)
}

// Run submits the composed prompt and loops through clarification rounds until the backend
// returns a refined prompt or the exchange is aborted.
func (c *Controller) Run(ctx context.Context, req *models.RefinementRequest, composed string) (*Outcome, error) {
	if c.state != AwaitingSubmission || c.calls > 0 {
		return nil, errors.New("clarification controller has already run")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(c.interrupted(err))
		}

		call := models.ProviderCall{
			Request:        req,
			ComposedPrompt: composed,
			Exchanges:      c.Exchanges(),
		}
		c.calls++
		c.logger.Debug("submitting refinement",
			zap.String("provider", c.provider.ID().String()),
			zap.Int("round", c.rounds),
			zap.Int("exchanges", len(call.Exchanges)))

		reply, err := c.provider.Refine(ctx, call)
		if err != nil {
			return nil, c.fail(err)
		}

		if !reply.AsksClarification() {
			c.transition(Resolved)
			return c.outcome(reply.RefinedPrompt, false), nil
		}

		c.transition(AwaitingClarification)
		if c.rounds >= c.opts.MaxRounds {
			c.transition(Aborted)
			return nil, &ClarificationAbortedError{Reason: RoundLimitExceeded, Rounds: c.rounds}
		}
		c.rounds++

		for i, text := range reply.Questions {
			answer, err := c.answers.Answer(ctx, Question{
				Round: c.rounds,
				Index: i + 1,
				Total: len(reply.Questions),
				Text:  text,
			})
			if err == nil && strings.TrimSpace(answer) == "" {
				err = ErrDeclined
			}
			if err != nil {
				return c.declined(ctx, reply, err)
			}
			c.exchanges = append(c.exchanges, models.ClarificationExchange{
				Round:    c.rounds,
				Question: text,
				Answer:   strings.TrimSpace(answer),
			})
		}

		c.transition(AwaitingSubmission)
	}
}

func (c *Controller) declined(ctx context.Context, reply *models.ProviderReply, err error) (*Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, c.fail(c.interrupted(ctxErr))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, c.fail(c.interrupted(err))
	}
	if !errors.Is(err, ErrDeclined) {
		c.logger.Debug("answer source failed", zap.Error(err))
	}

	// The round was opened but not completed.
	kept := c.exchanges[:0]
	for _, ex := range c.exchanges {
		if ex.Round != c.rounds {
			kept = append(kept, ex)
		}
	}
	c.exchanges = kept
	c.rounds--

	if c.opts.AcceptDraftOnDecline && strings.TrimSpace(reply.RefinedPrompt) != "" {
		c.transition(Resolved)
		out := c.outcome(reply.RefinedPrompt, true)
		out.Pending = append([]string(nil), reply.Questions...)
		return out, nil
	}
	c.transition(Aborted)
	return nil, &ClarificationAbortedError{
		Reason:    UserDeclined,
		Rounds:    c.rounds,
		Questions: append([]string(nil), reply.Questions...),
		Err:       err,
	}
}

// fail moves to Aborted. Errors on the first submission are returned as-is; later ones are
// wrapped so callers can tell a mid-exchange failure apart.
func (c *Controller) fail(err error) error {
	c.transition(Aborted)
	if len(c.exchanges) == 0 {
		return err
	}
	return &ClarificationAbortedError{Reason: ProviderFailure, Rounds: c.rounds, Err: err}
}

func (c *Controller) interrupted(err error) error {
	kind := models.KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.KindTimeout
	}
	return models.NewProviderError(kind, c.provider.ID(), err)
}

func (c *Controller) transition(next State) {
	c.logger.Debug("clarification state",
		zap.Stringer("from", c.state),
		zap.Stringer("to", next))
	c.state = next
}

func (c *Controller) outcome(refined string, partial bool) *Outcome {
	return &Outcome{
		RefinedPrompt: strings.TrimSpace(refined),
		Exchanges:     c.Exchanges(),
		Calls:         c.calls,
		Partial:       partial,
	}
}
