package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/bootstrap"
	"github.com/loomhq/loomgate/internal/bus"
	"github.com/loomhq/loomgate/internal/channels"
	"github.com/loomhq/loomgate/internal/channels/discord"
	"github.com/loomhq/loomgate/internal/channels/telegram"
	"github.com/loomhq/loomgate/internal/config"
	"github.com/loomhq/loomgate/internal/gateway"
	httpapi "github.com/loomhq/loomgate/internal/http"
	"github.com/loomhq/loomgate/internal/memoryservice"
	"github.com/loomhq/loomgate/internal/node"
	"github.com/loomhq/loomgate/internal/pairing"
	"github.com/loomhq/loomgate/internal/permissions"
	"github.com/loomhq/loomgate/internal/providers"
	"github.com/loomhq/loomgate/internal/quota"
	"github.com/loomhq/loomgate/internal/runtime"
	"github.com/loomhq/loomgate/internal/sandbox"
	"github.com/loomhq/loomgate/internal/scheduler"
	"github.com/loomhq/loomgate/internal/sessions"
	"github.com/loomhq/loomgate/internal/skills"
	"github.com/loomhq/loomgate/internal/store"
	"github.com/loomhq/loomgate/internal/store/file"
	"github.com/loomhq/loomgate/internal/tools"
	"github.com/loomhq/loomgate/pkg/protocol"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.HasAnyProvider() {
		fmt.Println("No AI provider API key found. Set a provider API key in config.json.")
		os.Exit(1)
	}

	msgBus := bus.New()

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	if seededFiles, seedErr := bootstrap.EnsureWorkspaceFiles(workspace); seedErr != nil {
		slog.Warn("bootstrap template seeding failed", "error", seedErr)
	} else if len(seededFiles) > 0 {
		slog.Info("seeded workspace templates", "files", seededFiles)
	}

	toolsReg := tools.NewRegistry()
	agentCfg := cfg.ResolveAgent("default")

	// Sandbox manager (optional — routes tools through Docker containers)
	var sandboxMgr sandbox.Manager
	if sbCfg := cfg.Agents.Defaults.Sandbox; sbCfg != nil && sbCfg.Mode != "" && sbCfg.Mode != "off" {
		if err := sandbox.CheckDockerAvailable(context.Background()); err != nil {
			slog.Warn("sandbox disabled: Docker not available", "configured_mode", sbCfg.Mode, "error", err)
		} else {
			resolved := sbCfg.ToSandboxConfig()
			sandboxMgr = sandbox.NewDockerManager(resolved)
			slog.Info("sandbox enabled", "mode", string(resolved.Mode), "image", resolved.Image, "scope", string(resolved.Scope))
		}
	}

	if sandboxMgr != nil {
		toolsReg.Register(tools.NewSandboxedReadFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedWriteFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedListFilesTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedEditTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedExecTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
	} else {
		toolsReg.Register(tools.NewReadFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewWriteFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewListFilesTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewEditTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewExecTool(workspace, agentCfg.RestrictToWorkspace))
	}

	// Vision + image generation (routed through whichever provider supports them)
	toolsReg.Register(tools.NewReadImageTool(providerRegistry))
	toolsReg.Register(tools.NewCreateImageTool(providerRegistry))

	// Web tools
	webSearchTool := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveEnabled: cfg.Tools.Web.Brave.Enabled,
		BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
		DDGEnabled:   cfg.Tools.Web.DuckDuckGo.Enabled,
	})
	if webSearchTool != nil {
		toolsReg.Register(webSearchTool)
		slog.Info("web_search tool enabled")
	}
	toolsReg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	// Tool rate limiting (per session, sliding window)
	if cfg.Tools.RateLimitPerHour > 0 {
		toolsReg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
		slog.Info("tool rate limiting enabled", "per_hour", cfg.Tools.RateLimitPerHour)
	}

	// Credential scrubbing (enabled by default, can be disabled via config)
	if cfg.Tools.ScrubCredentials != nil && !*cfg.Tools.ScrubCredentials {
		toolsReg.SetScrubbing(false)
		slog.Info("credential scrubbing disabled")
	}

	// Exec approval system
	approvalCfg := tools.DefaultExecApprovalConfig()
	if eaCfg := cfg.Tools.ExecApproval; eaCfg.Security != "" {
		approvalCfg.Security = tools.ExecSecurity(eaCfg.Security)
	}
	if eaCfg := cfg.Tools.ExecApproval; eaCfg.Ask != "" {
		approvalCfg.Ask = tools.ExecAskMode(eaCfg.Ask)
	}
	if len(cfg.Tools.ExecApproval.Allowlist) > 0 {
		approvalCfg.Allowlist = cfg.Tools.ExecApproval.Allowlist
	}
	execApprovalMgr := tools.NewExecApprovalManager(approvalCfg)
	if execTool, ok := toolsReg.Get("exec"); ok {
		if aa, ok := execTool.(tools.ApprovalAware); ok {
			aa.SetApprovalManager(execApprovalMgr, "default")
		}
	}
	slog.Info("exec approval enabled", "security", string(approvalCfg.Security), "ask", string(approvalCfg.Ask))

	// Policy engines
	permPE := permissions.NewPolicyEngine(cfg.Gateway.OwnerIDs)
	toolPE := tools.NewPolicyEngine(&cfg.Tools)

	// Stores: sessions + pairing, both file-backed.
	sessStore := file.NewFileSessionStore(sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage)))

	dataDir := os.Getenv("LOOMGATE_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.loomgate/data")
	}
	os.MkdirAll(dataDir, 0755)

	var pairingStore store.PairingStore = file.NewFilePairingStore(pairing.NewService(filepath.Join(dataDir, "pairing.json")))

	// Bootstrap files for the default agent's system prompt.
	rawFiles := bootstrap.LoadWorkspaceFiles(workspace)
	truncCfg := bootstrap.TruncateConfig{
		MaxCharsPerFile: agentCfg.BootstrapMaxChars,
		TotalMaxChars:   agentCfg.BootstrapTotalMaxChars,
	}
	if truncCfg.MaxCharsPerFile <= 0 {
		truncCfg.MaxCharsPerFile = bootstrap.DefaultMaxCharsPerFile
	}
	if truncCfg.TotalMaxChars <= 0 {
		truncCfg.TotalMaxChars = bootstrap.DefaultTotalMaxChars
	}
	contextFiles := bootstrap.BuildContextFiles(rawFiles, truncCfg)
	slog.Info("bootstrap loaded from filesystem", "count", len(contextFiles))

	// Skills
	globalSkillsDir := os.Getenv("LOOMGATE_SKILLS_DIR")
	if globalSkillsDir == "" {
		globalSkillsDir = filepath.Join(config.ExpandHome("~/.loomgate"), "skills")
	}
	skillsLoader := skills.NewLoader(workspace, globalSkillsDir, "")
	slog.Info("skills loaded", "count", len(skillsLoader.ListSkills()))

	// Session tools (list, status, history, send)
	toolsReg.Register(tools.NewSessionsListTool())
	toolsReg.Register(tools.NewSessionStatusTool())
	toolsReg.Register(tools.NewSessionsHistoryTool())
	toolsReg.Register(tools.NewSessionsSendTool())

	homeDir, _ := os.UserHomeDir()
	if readTool, ok := toolsReg.Get("read_file"); ok {
		if pa, ok := readTool.(tools.PathAllowable); ok {
			pa.AllowPaths(globalSkillsDir)
			if homeDir != "" {
				pa.AllowPaths(filepath.Join(homeDir, ".agents", "skills"))
			}
		}
	}

	for _, name := range []string{"sessions_list", "session_status", "sessions_history", "sessions_send"} {
		if t, ok := toolsReg.Get(name); ok {
			if sa, ok := t.(tools.SessionStoreAware); ok {
				sa.SetSessionStore(sessStore)
			}
			if ba, ok := t.(tools.BusAware); ok {
				ba.SetMessageBus(msgBus)
			}
		}
	}

	// Create agents + their turn runtimes.
	agentRouter := agent.NewRouter()
	runtimes := make(map[string]*runtime.Runtime)
	quotaTracker := quota.NewTracker(cfg.Quota)

	if err := createAgent("default", cfg, agentRouter, runtimes, providerRegistry, msgBus, sessStore, toolsReg, toolPE, contextFiles, skillsLoader, quotaTracker); err != nil {
		slog.Error("failed to create default agent", "error", err)
		os.Exit(1)
	}
	for agentID := range cfg.Agents.List {
		if agentID == "default" {
			continue
		}
		if err := createAgent(agentID, cfg, agentRouter, runtimes, providerRegistry, msgBus, sessStore, toolsReg, toolPE, contextFiles, skillsLoader, quotaTracker); err != nil {
			slog.Error("failed to create agent", "agent", agentID, "error", err)
		}
	}

	// Gateway server
	server := gateway.NewServer(cfg, msgBus, agentRouter, sessStore, toolsReg)
	server.SetPolicyEngine(permPE)
	server.SetPairingService(pairingStore)
	for agentID, rt := range runtimes {
		server.SetRuntime(agentID, rt)
	}

	server.SetQuotaHandler(httpapi.NewQuotaHandler(quotaTracker, cfg.Gateway.Token))

	if cfg.Node.Enabled {
		server.SetNodeManager(node.NewManager())
	}

	memoryClient := memoryservice.NewClient(cfg.MemoryService.BaseURL, cfg.MemoryService.Token)
	server.SetMemoryHandler(httpapi.NewMemoryHandler(memoryClient, cfg.Gateway.Token))

	// Scheduler + delivery inbox, routed through the runtimes above.
	schedEngine, err := setupScheduler(cfg, dataDir, server, makeSchedulerRunFunc(agentRouter, cfg, server.Runtime))
	if err != nil {
		slog.Error("failed to set up scheduler", "error", err)
		os.Exit(1)
	}
	schedEngine.Start()
	defer schedEngine.Stop()

	// Channel manager: Telegram + Discord.
	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, pairingStore)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, msgBus, pairingStore)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	// Lane-based scheduler for channel-originated and subagent/delegate turns.
	sched := scheduler.NewScheduler(
		scheduler.DefaultLanes(),
		scheduler.DefaultQueueConfig(),
		makeSchedulerRunFunc(agentRouter, cfg, server.Runtime),
	)
	defer sched.Stop()

	sched.SetTokenEstimateFunc(func(sessionKey string) (int, int) {
		history := sessStore.GetHistory(sessionKey)
		lastPT, lastMC := sessStore.GetLastPromptTokens(sessionKey)
		tokens := agent.EstimateTokensWithCalibration(history, lastPT, lastMC)
		cw := sessStore.GetContextWindow(sessionKey)
		if cw <= 0 {
			cw = 200000
		}
		return tokens, cw
	})

	// Forward agent streaming/tool events to the channel manager.
	msgBus.Subscribe("channel-streaming", func(event bus.Event) {
		if event.Name != protocol.EventAgent {
			return
		}
		agentEvent, ok := event.Payload.(agent.AgentEvent)
		if !ok {
			return
		}
		channelMgr.HandleAgentEvent(agentEvent.Type, agentEvent.RunID, agentEvent.Payload)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if skillsWatcher, err := skills.NewWatcher(skillsLoader); err != nil {
		slog.Warn("skills watcher unavailable", "error", err)
	} else if err := skillsWatcher.Start(ctx); err != nil {
		slog.Warn("skills watcher start failed", "error", err)
	} else {
		defer skillsWatcher.Stop()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	go consumeInboundMessages(ctx, msgBus, agentRouter, cfg, sched, channelMgr)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		channelMgr.StopAll(context.Background())
		if sandboxMgr != nil {
			sandboxMgr.Stop()
			slog.Info("releasing sandbox containers...")
			sandboxMgr.ReleaseAll(context.Background())
		}
		cancel()
	}()

	slog.Info("loomgate gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"agents", agentRouter.List(),
		"tools", toolsReg.Count(),
		"channels", channelMgr.GetEnabledChannels(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// createAgent builds agentID's agent.Loop and a turn runtime.Runtime driving
// it, registering both with agentRouter/runtimes. The runtime is what the
// gateway's chat.send/chat.abort RPCs and the scheduler's RunFunc dispatch
// through, so every turn — WS, channel, or scheduled — gets the same
// session-lock, cancel, and quota handling.
func createAgent(
	agentID string,
	cfg *config.Config,
	agentRouter *agent.Router,
	runtimes map[string]*runtime.Runtime,
	providerRegistry *providers.Registry,
	msgBus *bus.MessageBus,
	sessStore store.SessionStore,
	toolsReg *tools.Registry,
	toolPE *tools.PolicyEngine,
	contextFiles []bootstrap.ContextFile,
	skillsLoader *skills.Loader,
	quotaTracker *quota.Tracker,
) error {
	agentCfg := cfg.ResolveAgent(agentID)

	provider, err := providerRegistry.Get(agentCfg.Provider)
	if err != nil {
		names := providerRegistry.List()
		if len(names) == 0 {
			return fmt.Errorf("no providers configured")
		}
		provider, _ = providerRegistry.Get(names[0])
		slog.Warn("configured provider not found, using fallback", "agent", agentID, "wanted", agentCfg.Provider, "using", names[0])
	}

	var skillAllowList []string
	if spec, ok := cfg.Agents.List[agentID]; ok {
		skillAllowList = spec.Skills
	}

	var eventMu sync.Mutex
	var rt *runtime.Runtime
	onEvent := func(ev agent.AgentEvent) {
		eventMu.Lock()
		msgBus.Broadcast(bus.Event{Name: protocol.EventAgent, Payload: ev})
		eventMu.Unlock()
		if rt != nil {
			rt.EventSink()(ev)
		}
	}

	loop := agent.NewLoop(agent.LoopConfig{
		ID:                agentID,
		Provider:          provider,
		Model:             agentCfg.Model,
		ContextWindow:     agentCfg.ContextWindow,
		MaxIterations:     agentCfg.MaxToolIterations,
		Workspace:         config.ExpandHome(agentCfg.Workspace),
		Bus:               msgBus,
		Sessions:          sessStore,
		Tools:             toolsReg,
		ToolPolicy:        toolPE,
		OnEvent:           onEvent,
		OwnerIDs:          cfg.Gateway.OwnerIDs,
		SkillsLoader:      skillsLoader,
		SkillAllowList:    skillAllowList,
		HasMemory:         false,
		ContextFiles:      contextFiles,
		CompactionCfg:     agentCfg.Compaction,
		ContextPruningCfg: agentCfg.ContextPruning,
	})

	agentRouter.Register(agentID, loop)

	rt = runtime.NewRuntime(loop)
	if quotaTracker != nil {
		rt.WithQuota(agentID, quotaTracker)
	}
	runtimes[agentID] = rt

	return nil
}
