package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/prepcli/prep/refiner"
)

// PromptAnswers asks clarification questions on the terminal.
type PromptAnswers struct {
	printer *Printer
	stdin   io.ReadCloser
	stdout  io.WriteCloser
}

// NewPromptAnswers reads from stdin. Nil streams fall back to the process terminal.
func NewPromptAnswers(printer *Printer, stdin io.ReadCloser, stdout io.WriteCloser) *PromptAnswers {
	return &PromptAnswers{printer: printer, stdin: stdin, stdout: stdout}
}

func (a *PromptAnswers) Answer(ctx context.Context, q refiner.Question) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if q.Index == 1 {
		a.printer.Header(fmt.Sprintf("Clarification round %d", q.Round))
		a.printer.Info("The model needs more information (leave an answer empty to stop).")
	}

	prompt := promptui.Prompt{
		Label:  fmt.Sprintf("Q%d: %s", q.Index, q.Text),
		Stdin:  a.stdin,
		Stdout: a.stdout,
	}
	answer, err := prompt.Run()
	if err != nil {
		return "", answerError(err)
	}
	return strings.TrimSpace(answer), nil
}

// answerError turns Ctrl+C into a cancellation of the whole run. Ctrl+D and any other
// prompt failure decline the question.
func answerError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		return fmt.Errorf("%w: %v", context.Canceled, err)
	}
	return refiner.ErrDeclined
}

// Confirm asks a yes/no question. Anything but an explicit yes is a no.
func Confirm(label string, stdin io.ReadCloser) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     stdin,
	}
	_, err := prompt.Run()
	return err == nil
}
