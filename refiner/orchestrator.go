package refiner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/utils"
)

// ProviderSettings are the config-file values for one backend.
type ProviderSettings struct {
	Endpoint string
	Model    string
}

// Environment is the configuration and process environment a run reads from. It is built
// once by the caller and never modified by the orchestrator.
type Environment struct {
	DefaultProvider models.ProviderID
	DefaultModel    string
	Providers       map[models.ProviderID]ProviderSettings
	MaxRounds       int
	Timeout         time.Duration
	LookupEnv       utils.LookupEnv
}

// Options are the per-invocation inputs, usually straight from CLI flags.
type Options struct {
	Prompt      string
	Provider    string
	Model       string
	APIKey      string
	Template    string
	ContextPath string
	// Context is used as-is when ContextPath is empty.
	Context   string
	Format    models.OutputFormat
	MaxRounds int
	Timeout   time.Duration
}

// Plan is a fully resolved run that has not contacted any backend yet.
type Plan struct {
	Request        *models.RefinementRequest
	Config         models.ProviderConfig
	ComposedPrompt string
	MaxRounds      int
	credentials    models.Credentials
}

// HasCredentials reports whether a key was resolved for the plan's provider.
func (p *Plan) HasCredentials() bool {
	return p.credentials.Present()
}

// Recorder observes finished runs. outcome is "success" or the error kind name.
type Recorder interface {
	ObserveRefinement(provider models.ProviderID, outcome string, duration time.Duration, rounds int)
}

type OrchestratorOptions struct {
	Factory  ProviderFactory
	Answers  AnswerSource
	Recorder Recorder
	Logger   *zap.Logger
	// AcceptPartialOnDecline keeps the backend's first draft when clarification is declined.
	AcceptPartialOnDecline bool
	Now                    func() time.Time
}

// Orchestrator runs one refinement end to end.
type Orchestrator struct {
	env      Environment
	composer *Composer
	opts     OrchestratorOptions
	logger   *zap.Logger
}

func NewOrchestrator(env Environment, composer *Composer, opts OrchestratorOptions) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Factory == nil {
		opts.Factory = NewProviderFactory(nil, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		env:      env,
		composer: composer,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// ResolveProvider picks the backend: explicit name, then the configured default, then local Ollama.
func (o *Orchestrator) ResolveProvider(name string) (models.ProviderID, error) {
	if strings.TrimSpace(name) != "" {
		return models.ParseProviderID(name)
	}
	if o.env.DefaultProvider != "" {
		return o.env.DefaultProvider, nil
	}
	return models.ProviderOllamaLocal, nil
}

// ProviderConfig resolves endpoint, model and timeout for a backend. model overrides the config.
func (o *Orchestrator) ProviderConfig(provider models.ProviderID, model string, timeout time.Duration) models.ProviderConfig {
	settings := o.env.Providers[provider]

	endpoint := strings.TrimSpace(settings.Endpoint)
	if endpoint == "" {
		endpoint = provider.DefaultEndpoint()
	}

	resolved := strings.TrimSpace(model)
	if resolved == "" {
		resolved = strings.TrimSpace(settings.Model)
	}
	if resolved == "" && (provider == models.ProviderOllamaLocal || provider == models.ProviderOllamaCloud) {
		resolved = strings.TrimSpace(o.env.DefaultModel)
	}
	if resolved == "" {
		resolved = provider.DefaultModel()
	}

	if timeout <= 0 {
		timeout = o.env.Timeout
	}
	if timeout <= 0 {
		timeout = models.DefaultTimeout
	}

	return models.ProviderConfig{
		Provider:  provider,
		Endpoint:  strings.TrimRight(endpoint, "/"),
		Model:     resolved,
		KeyEnvVar: provider.KeyEnvVar(),
		Timeout:   timeout,
	}
}

// Plan resolves everything a run needs without any network I/O. Composer failures surface here.
func (o *Orchestrator) Plan(opts Options) (*Plan, error) {
	provider, err := o.ResolveProvider(opts.Provider)
	if err != nil {
		return nil, err
	}
	config := o.ProviderConfig(provider, opts.Model, opts.Timeout)

	contextBlob := opts.Context
	if opts.ContextPath != "" {
		contextBlob, err = o.composer.ReadContext(opts.ContextPath)
		if err != nil {
			return nil, err
		}
	}

	req, err := models.NewRefinementRequest(models.RefinementRequestParams{
		Prompt:   opts.Prompt,
		Template: opts.Template,
		Context:  contextBlob,
		Provider: provider,
		Model:    config.Model,
		Format:   opts.Format,
	})
	if err != nil {
		return nil, err
	}

	composed, err := o.composer.Compose(req)
	if err != nil {
		return nil, err
	}

	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = o.env.MaxRounds
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	return &Plan{
		Request:        req,
		Config:         config,
		ComposedPrompt: composed,
		MaxRounds:      maxRounds,
		credentials:    utils.ResolveCredentials(provider, opts.APIKey, o.env.LookupEnv),
	}, nil
}

// Refine plans and executes a run. It never retries; a RateLimited error is returned with
// its retry hint for the caller to act on.
func (o *Orchestrator) Refine(ctx context.Context, opts Options) (*models.RefinementResult, error) {
	plan, err := o.Plan(opts)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan, o.opts.Answers)
}

// Execute runs a plan against its backend, reading answers from answers.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, answers AnswerSource) (*models.RefinementResult, error) {
	start := o.opts.Now()
	provider := plan.Config.Provider

	adapter, err := o.opts.Factory(plan.Config, plan.credentials)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("starting refinement",
		zap.String("provider", provider.String()),
		zap.String("model", plan.Config.Model),
		zap.String("endpoint", plan.Config.Endpoint),
		zap.Bool("credentials", plan.credentials.Present()))

	controller := NewController(adapter, answers, ControllerOptions{
		MaxRounds:            plan.MaxRounds,
		AcceptDraftOnDecline: o.opts.AcceptPartialOnDecline,
		Logger:               o.logger,
	})
	outcome, err := controller.Run(ctx, plan.Request, plan.ComposedPrompt)
	latency := o.opts.Now().Sub(start)
	if err != nil {
		o.record(provider, OutcomeLabel(err), latency, controller.Rounds())
		return nil, err
	}

	result := &models.RefinementResult{
		RunID:            uuid.NewString(),
		OriginalPrompt:   plan.Request.Prompt(),
		RefinedPrompt:    outcome.RefinedPrompt,
		Provider:         provider,
		Model:            adapter.Model(),
		Template:         plan.Request.Template(),
		CreatedAt:        start.UTC(),
		Clarifications:   outcome.Exchanges,
		Latency:          latency,
		LatencyMs:        latency.Milliseconds(),
		Partial:          outcome.Partial,
		PendingQuestions: outcome.Pending,
	}
	o.record(provider, "success", latency, result.Rounds())

	o.logger.Debug("refinement finished",
		zap.String("runId", result.RunID),
		zap.Int("calls", outcome.Calls),
		zap.Duration("latency", latency))
	return result, nil
}

func (o *Orchestrator) record(provider models.ProviderID, outcome string, latency time.Duration, rounds int) {
	if o.opts.Recorder == nil {
		return
	}
	o.opts.Recorder.ObserveRefinement(provider, outcome, latency, rounds)
}

// OutcomeLabel names the terminal error kind for metrics and logs.
func OutcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if aborted, ok := asAborted(err); ok && aborted.Reason != ProviderFailure {
		return aborted.Reason.String()
	}
	if pe, ok := models.AsProviderError(err); ok {
		return pe.Kind.String()
	}
	switch err.(type) {
	case *TemplateNotFoundError:
		return "TemplateNotFound"
	case *ContextUnreadableError:
		return "ContextUnreadable"
	}
	return "error"
}
