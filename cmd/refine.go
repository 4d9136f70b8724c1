package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prepcli/prep/contextfile"
	"github.com/prepcli/prep/history"
	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
	"github.com/prepcli/prep/ui"
)

const (
	envProvider = "PREP_PROVIDER"
	envModel    = "PREP_MODEL"
)

func runRefine(cmd *cobra.Command, root *rootOptions, flags *refineFlags, args []string) error {
	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	stdin := cmd.InOrStdin()
	prompt, fromArgs, err := readPrompt(args, stdin)
	if err != nil {
		return err
	}

	output := flags.output
	if output == "" {
		output = a.config.Default.OutputFormat
	}
	format, err := models.ParseOutputFormat(output)
	if err != nil {
		return err
	}

	// Clarification needs a terminal to ask on; piped input skips it.
	interactive := fromArgs && isTerminal(stdin)

	reader := contextfile.NewReader(a.fs, a.config.Refine.ContextMaxBytes, func(msg string) {
		a.printer.Warning("%s", msg)
	})
	composer := refiner.NewComposer(a.catalog, reader)
	orchestrator := refiner.NewOrchestrator(a.config.Environment(os.LookupEnv), composer, refiner.OrchestratorOptions{
		Factory:                refiner.NewProviderFactory(nil, a.logger),
		Logger:                 a.logger,
		AcceptPartialOnDecline: !interactive,
	})

	plan, err := orchestrator.Plan(refiner.Options{
		Prompt:      prompt,
		Provider:    flagOrEnv(flags.provider, envProvider),
		Model:       flagOrEnv(flags.model, envModel),
		APIKey:      flags.apiKey,
		Template:    flags.template,
		ContextPath: flags.contextPath,
		Format:      format,
		MaxRounds:   flags.maxRounds,
		Timeout:     flags.timeout,
	})
	if err != nil {
		return err
	}

	if flags.dryRun {
		a.printer.DryRun(plan)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	message := fmt.Sprintf("Refining with %s (%s)...", plan.Config.Provider.DisplayName(), plan.Config.Model)
	var answers refiner.AnswerSource = refiner.DeclineAll{}
	if interactive {
		answers = ui.NewPromptAnswers(a.printer, os.Stdin, os.Stderr)
	}
	spinning := &spinningAnswers{inner: answers, printer: a.printer, message: message}
	spinning.start()
	result, err := orchestrator.Execute(ctx, plan, spinning)
	spinning.stop()
	if err != nil {
		return err
	}

	a.printer.Pending(result)
	if err := ui.Render(a.printer.Out(), result, format); err != nil {
		return errors.Wrap(err, "failed to render result")
	}

	if flags.copy || a.config.Default.CopyToClipboard {
		if err := clipboard.WriteAll(result.RefinedPrompt); err != nil {
			a.printer.Warning("Could not copy to clipboard: %v", err)
		} else if format == models.OutputText {
			a.printer.Success("Copied to clipboard")
		}
	}

	if a.config.History.Enabled && !flags.noHistory {
		saveHistory(ctx, a, result)
	}
	return nil
}

// readPrompt joins args, or reads stdin when no args were given and stdin is not a terminal.
func readPrompt(args []string, stdin io.Reader) (string, bool, error) {
	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		return prompt, true, nil
	}
	if stdin == nil || isTerminal(stdin) {
		return "", false, errors.Wrap(models.ErrEmptyPrompt, "pass a prompt as an argument or pipe one on stdin")
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to read prompt from stdin")
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", false, models.ErrEmptyPrompt
	}
	return prompt, false, nil
}

// saveHistory never fails the run; problems are logged.
func saveHistory(ctx context.Context, a *app, result *models.RefinementResult) {
	store, err := history.Open(ctx, a.config.HistoryPath(a.manager))
	if err != nil {
		a.logger.Warn("failed to open history", zap.Error(err))
		return
	}
	defer store.Close()

	if _, err := store.Append(ctx, history.EntryFromResult(result)); err != nil {
		a.logger.Warn("failed to save history entry", zap.String("runId", result.RunID), zap.Error(err))
		return
	}
	if _, err := store.Prune(ctx, a.config.History.MaxEntries); err != nil {
		a.logger.Warn("failed to prune history", zap.Error(err))
	}
}

func flagOrEnv(flag, env string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(env))
}

// spinningAnswers hides the spinner while a question is on screen.
type spinningAnswers struct {
	inner   refiner.AnswerSource
	printer *ui.Printer
	message string
	halt    func()
}

func (s *spinningAnswers) start() {
	s.halt = s.printer.Spin(s.message)
}

func (s *spinningAnswers) stop() {
	if s.halt != nil {
		s.halt()
		s.halt = nil
	}
}

func (s *spinningAnswers) Answer(ctx context.Context, q refiner.Question) (string, error) {
	s.stop()
	answer, err := s.inner.Answer(ctx, q)
	if err == nil && answer != "" && q.Index == q.Total {
		s.start()
	}
	return answer, err
}
