package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/revittco/agentrun/internal/agentloop"
	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/config"
	"github.com/revittco/agentrun/internal/llm"
	"github.com/revittco/agentrun/internal/llm/anthropic"
	"github.com/revittco/agentrun/internal/llm/openai"
	"github.com/revittco/agentrun/internal/rpcapi"
	"github.com/revittco/agentrun/internal/sandbox"
	"github.com/revittco/agentrun/internal/secrets"
	"github.com/revittco/agentrun/internal/store"
	"github.com/revittco/agentrun/internal/store/memstore"
	"github.com/revittco/agentrun/internal/store/sqlite"
	"github.com/revittco/agentrun/internal/tools/builtin"
	"github.com/revittco/agentrun/internal/toolreg"
	"github.com/revittco/agentrun/internal/turn"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var noPersist bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RPC Surface over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), noPersist)
		},
	}
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "use the in-memory store instead of sqlite")
	return cmd
}

func runServe(ctx context.Context, noPersist bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	durable, closeStore, err := openStore(ctx, cfg, noPersist)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	client, err := newLLMClient(cfg)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	reg := toolreg.New()
	tools := []toolreg.Tool{*builtin.MathAdd(), *builtin.CalendarUpdate()}

	catalog, err := loadCatalog(cfg.ConfigFile, tools)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	for i := range tools {
		if err := reg.Register(&tools[i]); err != nil {
			return fmt.Errorf("register %s: %w", tools[i].Path, err)
		}
	}

	secretsMgr, err := newSecretsManager(cfg, durable)
	if err != nil {
		return fmt.Errorf("build secrets manager: %w", err)
	}

	approvals := approval.New()
	runner := sandbox.New(reg, approvals, cfg.SandboxTimeout, cfg.ApprovalTimeout).WithSecrets(secretsMgr)

	mgr := turn.New(client, runner, approvals, systemPromptFor(reg),
		turn.WithBudgets(agentloop.Budgets{
			MaxSteps: cfg.MaxSteps, PerStepTimeout: cfg.PerStepTimeout, TotalTimeout: cfg.TotalTimeout,
		}),
		turn.WithPostTerminalRetention(cfg.PostTerminalRetention),
		turn.WithDefaultRules(catalog.DefaultRules()),
		turn.WithStore(durable),
	)
	approvals.SetEventSink(mgr)

	sweeper, err := turn.NewSweeper(mgr, cfg.SweepSchedule)
	if err != nil {
		return fmt.Errorf("build sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: rpcapi.NewRouter(rpcapi.RouterDeps{Manager: mgr, LongPollTimeout: rpcapi.DefaultLongPollTimeout}),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("agentrund listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, noPersist bool) (store.Store, func(), error) {
	if noPersist {
		s := memstore.New()
		return s, func() { _ = s.Close() }, nil
	}
	db, err := sqlite.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// newSecretsManager loads the age identity at cfg.AgeKeyPath, generating and
// persisting one on first run, and returns a secrets.Manager backed by
// durable. A fresh identity means secrets stashed under a previous one
// become unrecoverable, so the file is only ever written once.
func newSecretsManager(cfg config.ServerConfig, durable store.Store) (*secrets.Manager, error) {
	identity, err := os.ReadFile(cfg.AgeKeyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read age key: %w", err)
		}
		generated, genErr := secrets.GenerateAgeIdentity()
		if genErr != nil {
			return nil, fmt.Errorf("generate age key: %w", genErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(cfg.AgeKeyPath), 0o700); mkErr != nil {
			return nil, fmt.Errorf("create age key dir: %w", mkErr)
		}
		if writeErr := os.WriteFile(cfg.AgeKeyPath, []byte(generated), 0o600); writeErr != nil {
			return nil, fmt.Errorf("write age key: %w", writeErr)
		}
		identity = []byte(generated)
	}

	encryptor, err := secrets.NewAgeEncryptor(strings.TrimSpace(string(identity)))
	if err != nil {
		return nil, fmt.Errorf("build age encryptor: %w", err)
	}
	return secrets.NewManager(durable, encryptor), nil
}

func newLLMClient(cfg config.ServerConfig) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, "claude-sonnet-4-5", 4096)
	case "openai":
		return openai.NewFromAPIKey(cfg.OpenAIAPIKey, "gpt-4.1")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// loadCatalog applies agentrun.yaml's tool-approval overrides to tools in
// place and returns the parsed catalog so default rules can be installed.
// A missing file falls back to the compiled-in defaults, matching serve's
// "runs fine with zero config" posture.
func loadCatalog(path string, tools []toolreg.Tool) (*config.CatalogConfig, error) {
	cat, err := config.LoadCatalogFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config.CatalogConfig{}, nil
		}
		return nil, err
	}
	setters := make([]config.ApprovalSetter, len(tools))
	for i := range tools {
		setters[i] = &tools[i]
	}
	if err := config.ApplyToolOverrides(setters, cat.Tools); err != nil {
		return nil, err
	}
	return cat, nil
}

func systemPromptFor(reg *toolreg.Registry) func() string {
	return func() string {
		var b strings.Builder
		b.WriteString("You control tools through a JavaScript code-mode sandbox. ")
		b.WriteString("Call tools.<path>(input), e.g. tools.math.add({a: 1, b: 2}), to invoke one; it returns the tool's result directly. Available tools:\n")
		reg.Walk(func(path string, t *toolreg.Tool) {
			fmt.Fprintf(&b, "- %s: %s\n", path, t.Description)
		})
		return b.String()
	}
}
