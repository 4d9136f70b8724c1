package ui

import (
	"errors"
	"fmt"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
)

// Describe turns a terminal error into the message shown to the user, with a hint when
// there is an obvious next step.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var aborted *refiner.ClarificationAbortedError
	if errors.As(err, &aborted) && aborted.Reason != refiner.ProviderFailure {
		return aborted.Error()
	}

	pe, ok := models.AsProviderError(err)
	if !ok {
		return err.Error()
	}

	msg := pe.Error()
	switch pe.Kind {
	case models.KindAuthInvalid:
		msg += "\nHint: the key was rejected; make sure it belongs to " + pe.Provider.DisplayName() + " and has not expired."
	case models.KindRateLimited:
		if pe.RetryAfter > 0 {
			msg += fmt.Sprintf("\nHint: wait %s before running prep again.", pe.RetryAfter)
		}
	case models.KindTimeout:
		msg += "\nHint: raise the limit with --timeout or refine.timeout."
	case models.KindMalformedResponse:
		msg += "\nHint: try again or pick a different model with --model."
	}
	return msg
}
