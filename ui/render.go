package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
)

// Render writes a result to w in the requested format.
func Render(w io.Writer, result *models.RefinementResult, format models.OutputFormat) error {
	switch format {
	case models.OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case models.OutputMarkdown:
		_, err := io.WriteString(w, Markdown(result))
		return err
	default:
		_, err := fmt.Fprintln(w, result.RefinedPrompt)
		return err
	}
}

// Markdown renders a result as a markdown document.
func Markdown(result *models.RefinementResult) string {
	var b strings.Builder
	b.WriteString("## Refined Prompt\n\n")
	b.WriteString(result.RefinedPrompt)
	b.WriteString("\n")

	if len(result.Clarifications) > 0 {
		b.WriteString("\n### Clarifications\n\n")
		for i, ex := range result.Clarifications {
			fmt.Fprintf(&b, "%d. **%s** %s\n", i+1, ex.Question, ex.Answer)
		}
	}

	if len(result.PendingQuestions) > 0 {
		b.WriteString("\n### Clarification Questions\n\n")
		for i, q := range result.PendingQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}

	fmt.Fprintf(&b, "\n---\n_%s · %s · %dms_\n", result.Provider.DisplayName(), result.Model, result.LatencyMs)
	return b.String()
}

// DryRun describes a plan without running it.
func (p *Printer) DryRun(plan *refiner.Plan) {
	p.Header("Dry Run")
	p.KV("Provider", plan.Config.Provider.DisplayName())
	p.KV("Model", plan.Config.Model)
	p.KV("Endpoint", plan.Config.Endpoint)
	p.KV("Timeout", plan.Config.Timeout.String())
	p.KV("Max rounds", fmt.Sprint(plan.MaxRounds))
	if plan.Config.Provider.RequiresKey() {
		state := "missing"
		if plan.HasCredentials() {
			state = "present"
		}
		p.KV("API key", fmt.Sprintf("%s (%s)", state, plan.Config.KeyEnvVar))
	}
	fmt.Fprintln(p.errOut)
	p.Boxed(plan.ComposedPrompt, "Prompt to be sent")
}

// Pending warns about questions a non-interactive run could not ask.
func (p *Printer) Pending(result *models.RefinementResult) {
	if !result.Partial {
		return
	}
	p.Warning("Clarification needed but running non-interactively.")
	if len(result.PendingQuestions) > 0 {
		p.Info("Questions the model wanted to ask:")
		for i, q := range result.PendingQuestions {
			fmt.Fprintf(p.errOut, "  Q%d: %s\n", i+1, q)
		}
	}
	p.Info("Using the initial refined prompt. Re-run interactively for better results.")
}
