package refiner

import (
	"errors"
	"fmt"
	"strings"
)

// TemplateNotFoundError is returned when a request names a template the catalog does not hold.
type TemplateNotFoundError struct {
	Name      string
	Available []string
}

func (e *TemplateNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("template '%s' not found", e.Name)
	}
	return fmt.Sprintf("template '%s' not found. Available templates: %s", e.Name, strings.Join(e.Available, ", "))
}

// ContextUnreadableError is returned when the context file cannot supply its content.
type ContextUnreadableError struct {
	Path string
	Err  error
}

func (e *ContextUnreadableError) Error() string {
	return fmt.Sprintf("could not read context file '%s': %v", e.Path, e.Err)
}

func (e *ContextUnreadableError) Unwrap() error {
	return e.Err
}

// AbortReason says why a clarification exchange ended without a refined prompt.
type AbortReason int

const (
	RoundLimitExceeded AbortReason = iota + 1
	UserDeclined
	ProviderFailure
)

func (r AbortReason) String() string {
	switch r {
	case RoundLimitExceeded:
		return "RoundLimitExceeded"
	case UserDeclined:
		return "UserDeclined"
	case ProviderFailure:
		return "ProviderFailure"
	}
	return fmt.Sprintf("AbortReason(%d)", int(r))
}

// ClarificationAbortedError ends a clarification loop. For ProviderFailure, Err holds the
// *models.ProviderError that stopped it.
type ClarificationAbortedError struct {
	Reason AbortReason
	Rounds int
	// Questions holds the unanswered questions when Reason is UserDeclined.
	Questions []string
	Err       error
}

func (e *ClarificationAbortedError) Error() string {
	switch e.Reason {
	case RoundLimitExceeded:
		return fmt.Sprintf("clarification aborted: the model still had questions after %d rounds. Try a more specific prompt or raise --max-rounds", e.Rounds)
	case UserDeclined:
		return "clarification aborted: a question was left unanswered"
	case ProviderFailure:
		return fmt.Sprintf("clarification aborted after %d rounds: %v", e.Rounds, e.Err)
	}
	return fmt.Sprintf("clarification aborted: %v", e.Err)
}

func (e *ClarificationAbortedError) Unwrap() error {
	return e.Err
}

var errNoContextReader = errors.New("no context reader configured")

// ErrDeclined is returned by an AnswerSource when no answer will be given.
var ErrDeclined = errors.New("question declined")

func asAborted(err error) (*ClarificationAbortedError, bool) {
	var aborted *ClarificationAbortedError
	if errors.As(err, &aborted) {
		return aborted, true
	}
	return nil, false
}
