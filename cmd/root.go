package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prepcli/prep/internal/config"
	"github.com/prepcli/prep/templates"
	"github.com/prepcli/prep/ui"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

type refineFlags struct {
	provider    string
	model       string
	apiKey      string
	output      string
	copy        bool
	contextPath string
	template    string
	dryRun      bool
	noHistory   bool
	maxRounds   int
	timeout     time.Duration
}

// Execute runs the CLI and prints a terminal error to stderr.
func Execute() error {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("✗"), ui.Describe(err))
	}
	return err
}

// NewRootCommand builds the full command tree. Every call returns fresh flag state.
func NewRootCommand() *cobra.Command {
	root := &rootOptions{}
	flags := &refineFlags{}

	cmd := &cobra.Command{
		Use:   "prep [prompt...]",
		Short: "Refine prompts for AI coding assistants",
		Long: `prep turns a terse prompt into a structured instruction for an AI coding assistant.

The refinement runs on local Ollama by default, or on Ollama Cloud, OpenAI or Anthropic.
When the model needs more detail it asks clarification questions; answer them in the
terminal or leave an answer empty to stop. Piped input skips clarification.`,
		Example: `  prep "build a REST API for todos"
  prep -p openai -t code "implement JWT auth"
  cat notes.txt | prep -o json
  prep --context schema.sql "write the repository layer"`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefine(cmd, root, flags, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&root.configPath, "config", "", "config file (default is $PREP_CONFIG or <user config dir>/prep/config.toml)")
	pf.BoolVarP(&root.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&root.noColor, "no-color", false, "disable colored output")

	bindRefineFlags(cmd, flags)
	cmd.Flags().StringVarP(&flags.template, "template", "t", "", "template to apply (see 'prep templates list')")

	cmd.AddCommand(
		newConfigCommand(root),
		newHistoryCommand(root),
		newTemplatesCommand(root),
		newCompletionCommand(),
		newServeCommand(root),
	)
	return cmd
}

func bindRefineFlags(cmd *cobra.Command, flags *refineFlags) {
	f := cmd.Flags()
	f.StringVarP(&flags.provider, "provider", "p", "", "provider: ollama, ollama-cloud, openai, anthropic (env PREP_PROVIDER)")
	f.StringVarP(&flags.model, "model", "m", "", "model to use (env PREP_MODEL)")
	f.StringVar(&flags.apiKey, "api-key", "", "API key for the provider")
	_ = f.MarkHidden("api-key")
	f.StringVarP(&flags.output, "output", "o", "", "output format: text, json, markdown")
	f.BoolVarP(&flags.copy, "copy", "C", false, "copy the refined prompt to the clipboard")
	f.StringVar(&flags.contextPath, "context", "", "file to attach as additional context")
	f.BoolVar(&flags.dryRun, "dry-run", false, "show what would be sent without calling the provider")
	f.BoolVar(&flags.noHistory, "no-history", false, "do not save this refinement to history")
	f.IntVar(&flags.maxRounds, "max-rounds", 0, "maximum clarification rounds (default from config)")
	f.DurationVar(&flags.timeout, "timeout", 0, "per-request timeout, e.g. 90s (default from config)")
}

// app is the state shared by every command, built once per invocation.
type app struct {
	fs      afero.Fs
	manager *config.Manager
	config  *config.Config
	logger  *zap.Logger
	printer *ui.Printer
	catalog *templates.Catalog
}

func newManager(fs afero.Fs, root *rootOptions) (*config.Manager, error) {
	path := root.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.NewManager(fs, path), nil
}

func newPrinter(cmd *cobra.Command, root *rootOptions, colorEnabled, spinnerEnabled bool) *ui.Printer {
	errOut := cmd.ErrOrStderr()
	colorEnabled = colorEnabled && !root.noColor && os.Getenv("NO_COLOR") == "" && isTerminal(errOut)
	return ui.NewPrinter(cmd.OutOrStdout(), errOut, colorEnabled, spinnerEnabled && isTerminal(errOut))
}

func newApp(cmd *cobra.Command, root *rootOptions) (*app, error) {
	fs := afero.NewOsFs()
	manager, err := newManager(fs, root)
	if err != nil {
		return nil, err
	}
	cfg, err := manager.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), root.verbose)
	printer := newPrinter(cmd, root, cfg.UI.Color, cfg.UI.Spinner)

	catalog, err := templates.Load(fs, manager.TemplatesPath())
	if err != nil {
		return nil, err
	}

	return &app{
		fs:      fs,
		manager: manager,
		config:  cfg,
		logger:  logger,
		printer: printer,
		catalog: catalog,
	}, nil
}

// newLogger writes console-encoded logs to w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), zapcore.AddSync(w), cfg.Level)
	return zap.New(core)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && ui.IsTerminal(f)
}
