package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/channels/discord"
	"github.com/nexus-run/nexus-core/internal/channels/mattermost"
	"github.com/nexus-run/nexus-core/internal/channels/matrix"
	"github.com/nexus-run/nexus-core/internal/channels/nostr"
	"github.com/nexus-run/nexus-core/internal/channels/slack"
	"github.com/nexus-run/nexus-core/internal/channels/telegram"
	"github.com/nexus-run/nexus-core/internal/channels/webhook"
	"github.com/nexus-run/nexus-core/internal/channels/websocket"
	"github.com/nexus-run/nexus-core/internal/channels/whatsapp"
	"github.com/nexus-run/nexus-core/internal/checkpoint"
	"github.com/nexus-run/nexus-core/internal/config"
	"github.com/nexus-run/nexus-core/internal/multiagent"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/providers/anthropic"
	"github.com/nexus-run/nexus-core/internal/providers/ark"
	"github.com/nexus-run/nexus-core/internal/providers/gemini"
	"github.com/nexus-run/nexus-core/internal/providers/openai"
	"github.com/nexus-run/nexus-core/internal/runloop"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/internal/runtime/tools"
	"github.com/nexus-run/nexus-core/internal/scheduler"
	"github.com/nexus-run/nexus-core/internal/skills"
	"github.com/nexus-run/nexus-core/internal/spawner"
	"github.com/nexus-run/nexus-core/internal/transcript"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// runLoopStateRef breaks the construction cycle between the Spawner
// (which needs a StateProvider at birth) and the RunLoop (which is
// the thing that actually knows whether it is stopping). rl is wired
// in once the RunLoop exists.
type runLoopStateRef struct {
	rl *runloop.RunLoop
}

func (r *runLoopStateRef) Stopping() bool {
	if r.rl == nil {
		return false
	}
	switch r.rl.State() {
	case runloop.StateStopping, runloop.StateStopped:
		return true
	default:
		return false
	}
}

// submitterRef breaks the same cycle for channels.Bridge, which needs
// a Submitter before the RunLoop that implements it exists.
type submitterRef struct {
	rl *runloop.RunLoop
}

func (s *submitterRef) Submit(ctx context.Context, inbound corekit.InboundMessage) error {
	if s.rl == nil {
		return fmt.Errorf("cli: runtime not started yet")
	}
	return s.rl.Submit(ctx, inbound)
}

// registeredProvider pairs a provider's agent executor with the agent
// id it is registered under.
type registeredProvider struct {
	agentID  string
	executor runtime.AgentExecutor
}

// buildProviders constructs an AgentExecutor for every provider whose
// API key environment variable is set, per the provider-registered-
// only-if-key-present rule.
func buildProviders(ctx context.Context, cfg *config.Config) ([]registeredProvider, error) {
	var out []registeredProvider

	if anthropicCfg := cfg.Providers.Anthropic.ToAnthropic(); anthropicCfg.APIKey != "" {
		p, err := anthropic.New(anthropicCfg)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		out = append(out, registeredProvider{agentID: "anthropic", executor: p})
	}
	if openaiCfg := cfg.Providers.OpenAI.ToOpenAI(); openaiCfg.APIKey != "" {
		p, err := openai.New(openaiCfg)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		out = append(out, registeredProvider{agentID: "openai", executor: p})
	}
	if geminiCfg := cfg.Providers.Gemini.ToGemini(); geminiCfg.APIKey != "" {
		p, err := gemini.New(ctx, geminiCfg)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		out = append(out, registeredProvider{agentID: "gemini", executor: p})
	}
	if arkCfg := cfg.Providers.Ark.ToArk(); arkCfg.APIKey != "" {
		p, err := ark.New(arkCfg)
		if err != nil {
			return nil, fmt.Errorf("ark provider: %w", err)
		}
		out = append(out, registeredProvider{agentID: "ark", executor: p})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no provider API key is set (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, ARK_API_KEY)")
	}
	return out, nil
}

// buildCheckpointStore constructs the configured checkpoint backend.
func buildCheckpointStore(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(log, metrics), nil
	case "sqlite":
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.Dir + "/checkpoints.db")
	case "postgres":
		return checkpoint.NewPostgresStore(cfg.Checkpoint.DSN, cfg.Checkpoint.Postgres)
	case "file", "":
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir, log, metrics), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// buildChannels constructs and registers one Adapter per entry in
// cfg.Channels.Enabled. Each adapter reads its own credentials from
// environment variables, per ChannelsConfig's doc comment, so a
// channel can be toggled on without touching the config file.
func buildChannels(ctx context.Context, cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) (*channels.Registry, error) {
	registry := channels.NewRegistry()

	for _, name := range cfg.Channels.Enabled {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case channels.Discord:
			a, err := discord.New(discord.Config{
				Token:            os.Getenv("DISCORD_BOT_TOKEN"),
				ReconnectBackoff: 60 * time.Second,
				MaxReconnects:    5,
			}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("discord channel: %w", err)
			}
			registry.Register(a)

		case channels.Telegram:
			a, err := telegram.New(telegram.Config{Token: os.Getenv("TELEGRAM_BOT_TOKEN")}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("telegram channel: %w", err)
			}
			registry.Register(a)

		case channels.WhatsApp:
			a, err := whatsapp.New(ctx, whatsapp.Config{DBPath: os.Getenv("WHATSAPP_DB_PATH")}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("whatsapp channel: %w", err)
			}
			registry.Register(a)

		case channels.Slack:
			a, err := slack.New(slack.Config{
				BotToken: os.Getenv("SLACK_BOT_TOKEN"),
				AppToken: os.Getenv("SLACK_APP_TOKEN"),
			}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("slack channel: %w", err)
			}
			registry.Register(a)

		case channels.Mattermost:
			a, err := mattermost.New(mattermost.Config{
				ServerURL: os.Getenv("MATTERMOST_SERVER_URL"),
				Token:     os.Getenv("MATTERMOST_TOKEN"),
			}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("mattermost channel: %w", err)
			}
			registry.Register(a)

		case channels.Matrix:
			a, err := matrix.New(matrix.Config{
				Homeserver:  os.Getenv("MATRIX_HOMESERVER"),
				UserID:      os.Getenv("MATRIX_USER_ID"),
				AccessToken: os.Getenv("MATRIX_ACCESS_TOKEN"),
			}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("matrix channel: %w", err)
			}
			registry.Register(a)

		case channels.Nostr:
			var relays []string
			if raw := os.Getenv("NOSTR_RELAYS"); raw != "" {
				relays = strings.Split(raw, ",")
			}
			a, err := nostr.New(nostr.Config{
				PrivateKey: os.Getenv("NOSTR_PRIVATE_KEY"),
				Relays:     relays,
			}, log, metrics)
			if err != nil {
				return nil, fmt.Errorf("nostr channel: %w", err)
			}
			registry.Register(a)

		case channels.Webhook:
			registry.Register(webhook.New(log, metrics))

		case channels.WebSocket:
			registry.Register(websocket.New(log, metrics))

		default:
			return nil, fmt.Errorf("unknown channel %q", name)
		}
	}

	return registry, nil
}

// runtimeHandle bundles everything a CLI command needs to operate the
// runtime: its RunLoop, the channel registry backing it, and the
// checkpoint/task stores the gateway exposes over HTTP.
type runtimeHandle struct {
	runLoop  *runloop.RunLoop
	registry *channels.Registry
	store    checkpoint.Store
	tasks    scheduler.Store
	log      *observability.Logger
}

// buildRuntime wires the core quartet (RunLoop/Spawner, Agent Loop,
// Checkpoint Store, channel fabric) from a loaded Config.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtimeHandle, error) {
	logger, err := observability.NewLogger(cfg.Observability.ToLogConfig())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	metrics := observability.NewMetrics()

	store, err := buildCheckpointStore(cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}

	providersList, err := buildProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	toolRegistry := tools.NewRegistry()
	transcriptMgr := transcript.NewManager(cfg.Checkpoint.Dir + "/transcripts")
	loop := runtime.NewLoop(toolRegistry, store, transcriptMgr, logger, metrics, runtime.DefaultLoopConfig())
	agentRuntime := runtime.NewRuntime(loop, runtime.RuntimeConfig{MaxConcurrent: 4, DefaultLoopConfig: runtime.DefaultLoopConfig()}, logger)

	defaultAgentID := cfg.RunLoop.DefaultAgentID
	if defaultAgentID == "" {
		defaultAgentID = providersList[0].agentID
	}
	for _, p := range providersList {
		agentRuntime.RegisterAgent(&runtime.Agent{ID: p.agentID, Name: p.agentID, Executor: p.executor})
	}

	stateRef := &runLoopStateRef{}
	sp := spawner.New(stateRef, logger, metrics)

	subagentMgr := multiagent.New(agentRuntime, sp, multiagent.ManagerConfig{}, logger, metrics)
	spawnTool, err := multiagent.NewSpawnTool(subagentMgr)
	if err != nil {
		return nil, fmt.Errorf("spawn_subagent tool: %w", err)
	}
	statusTool, err := multiagent.NewStatusTool(subagentMgr)
	if err != nil {
		return nil, fmt.Errorf("subagent_status tool: %w", err)
	}
	toolRegistry.Register(spawnTool)
	toolRegistry.Register(statusTool)

	if skillMgr, err := loadSkillManager(); err != nil {
		logger.Warn("skills unavailable", "error", err)
	} else {
		for _, entry := range skillMgr.ListEligible() {
			for _, t := range skills.BuildSkillTools(entry) {
				toolRegistry.Register(t)
			}
		}
	}

	registry, err := buildChannels(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	subRef := &submitterRef{}
	bridge := channels.NewBridge(registry, subRef, logger, metrics)

	rl := runloop.New(sp, agentRuntime, bridge, runloop.Config{DefaultAgentID: defaultAgentID}, logger, metrics)
	stateRef.rl = rl
	subRef.rl = rl

	taskStore := scheduler.NewMemoryStore()

	return &runtimeHandle{runLoop: rl, registry: registry, store: store, tasks: taskStore, log: logger}, nil
}
