package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/robfig/cron/v3"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/aggregator"
	"github.com/noteforge/noteforge/internal/chatport"
	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/internal/handlers"
	"github.com/noteforge/noteforge/internal/kbservice"
	"github.com/noteforge/noteforge/internal/kbsync"
	"github.com/noteforge/noteforge/internal/mcphub"
	"github.com/noteforge/noteforge/internal/ratelimit"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/internal/toolbox"
)

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// runGateway wires the Settings Store, Credential Store, Processed-Event
// Log, KB Sync Manager, MCP Hub, Agent Driver, and Chat Port into the Mode
// Router and drives the update loop until SIGINT/SIGTERM.
func runGateway() {
	setupLogging(verbose)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("gateway.config_load_failed", "error", err)
		os.Exit(1)
	}
	if cfg.TelegramBotToken == "" {
		slog.Error("gateway.missing_telegram_token", "hint", "set NOTEFORGE_TELEGRAM_BOT_TOKEN")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir := cfg.DataDir
	dedupLog := dedup.New(filepath.Join(dataDir, "processed.json"))
	overlay := config.NewOverlayStore(filepath.Join(dataDir, "user_settings_overrides.json"))
	bindings := router.NewBindingStore(filepath.Join(dataDir, "bindings.json"))
	syncMgr := kbsync.New(cfg.KBLockStaleAfter)
	limiter := ratelimit.New(cfg.RateLimitPerMinute)

	creds, err := credstore.New(filepath.Join(dataDir, "credentials.json"), []byte(cfg.CredentialMasterKey))
	if err != nil {
		slog.Error("gateway.credstore_init_failed", "error", err)
		os.Exit(1)
	}

	hub, stopHub := setupMCPHub(cfg)
	defer stopHub()

	toolRegistry := toolbox.NewRegistry(
		toolbox.FileCreateTool{},
		toolbox.FileEditTool{},
		toolbox.FileDeleteTool{},
		toolbox.FileMoveTool{},
		toolbox.FolderCreateTool{},
		toolbox.FolderDeleteTool{},
		toolbox.FolderMoveTool{},
		toolbox.KBReadTool{},
		toolbox.KBListTool{},
		toolbox.GitCommandTool{Timeout: cfg.HTTPTimeout},
		toolbox.GitHubAPITool{},
		toolbox.KBVectorSearchTool{Hub: hub},
		toolbox.MCPMemoryStoreTool{Hub: hub},
		toolbox.MCPMemoryRetrieveTool{Hub: hub},
		toolbox.MCPMemoryListCategoriesTool{Hub: hub},
		toolbox.PlanTodoTool{},
		toolbox.NewWebSearchTool(cfg.HTTPTimeout),
	)

	agentDriver := buildAgentDriver(cfg, toolRegistry)

	telegramPort, err := chatport.NewTelegramPort(cfg.TelegramBotToken)
	if err != nil {
		slog.Error("gateway.telegram_init_failed", "error", err)
		os.Exit(1)
	}
	status := &chatport.StatusAdapter{Port: telegramPort}

	base := &kbservice.Base{
		Bindings:          bindings,
		Sync:              syncMgr,
		Creds:             creds,
		Dedup:             dedupLog,
		Overlay:           overlay,
		Limiter:           limiter,
		Tools:             toolRegistry,
		Agent:             agentDriver,
		Status:            status,
		LockDeadline:      cfg.KBLockTimeout,
		AgentDeadline:     cfg.AgentTimeout,
		CommitAuthorEmail: "agent@noteforge.local",
	}

	r := router.New(dedupLog,
		kbservice.NewNoteService(base),
		kbservice.NewAskService(base),
		kbservice.NewTaskService(base),
	)
	r.Notifier = &chatport.DuplicateAdapter{Port: telegramPort}

	agg := aggregator.New(cfg.MessageGroupTimeout)
	go r.Run(ctx, agg.Out())

	dispatcher := &handlers.Dispatcher{
		Port:       telegramPort,
		Aggregator: agg,
		Router:     r,
		Bindings:   bindings,
		Creds:      creds,
		Overlay:    overlay,
		MCPServers: mcphub.NewServerRegistry(dataDir),
		Config:     cfg,
	}

	pruneSched := cron.New()
	ttl := time.Duration(cfg.ProcessedLogTTLDays) * 24 * time.Hour
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	if _, err := dedup.SchedulePruning(pruneSched, dedupLog, ttl); err != nil {
		slog.Error("gateway.prune_job_schedule_failed", "error", err)
	}
	pruneSched.Start()
	defer pruneSched.Stop()

	if err := telegramPort.Start(ctx); err != nil {
		slog.Error("gateway.telegram_start_failed", "error", err)
		os.Exit(1)
	}
	defer telegramPort.Stop(context.Background())

	slog.Info("gateway.started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("gateway.shutting_down")
			return
		case ev, ok := <-telegramPort.Updates():
			if !ok {
				return
			}
			dispatcher.HandleEvent(ctx, ev)
		}
	}
}

// buildAgentDriver selects between the in-process OpenAI-compatible
// function-calling loop and an external CLI subprocess, per
// AgentDriverMode.
func buildAgentDriver(cfg *config.Config, registry *toolbox.Registry) agent.Driver {
	if cfg.AgentDriverMode == "subprocess" {
		return &agent.SubprocessDriver{
			Command: cfg.AgentSubprocessCommand,
			Args:    cfg.AgentSubprocessArgs,
		}
	}
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	return &agent.InProcessDriver{
		Client:        client,
		Model:         cfg.AgentModel,
		Registry:      registry,
		MaxIterations: cfg.AgentMaxIterations,
	}
}

// setupMCPHub builds the hub's memory and vector backing stores. In
// "bundled" mode it also serves the hub's SSE/registry HTTP surface on
// McpHubPort; in "external" mode the hub still runs in-process for the
// in-process agent driver's own tool calls, but McpHubURL is expected to
// point at a separately-run hub for any other MCP client.
func setupMCPHub(cfg *config.Config) (*mcphub.Hub, func()) {
	memory := mcphub.NewMemoryStore(filepath.Join(cfg.DataDir, "memory"))
	registry := mcphub.NewServerRegistry(cfg.DataDir)

	var vectors *mcphub.VectorStore
	if v, err := mcphub.NewVectorStore(cfg.QdrantHost, cfg.QdrantPort); err != nil {
		slog.Warn("gateway.qdrant_unavailable", "error", err)
	} else {
		vectors = v
	}

	hub := mcphub.New(memory, vectors, registry, nil)

	if cfg.McpHubMode != "bundled" {
		return hub, func() {}
	}

	httpSrv := mcphub.NewHTTPServer(hub, registry, cfg.McpHubURL)
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.McpHubPort),
		Handler: httpSrv.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway.mcp_hub_server_failed", "error", err)
		}
	}()

	return hub, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
