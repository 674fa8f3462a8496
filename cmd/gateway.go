package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/replygate/internal/agent"
	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels"
	"github.com/nextlevelbuilder/replygate/internal/channels/discord"
	"github.com/nextlevelbuilder/replygate/internal/channels/telegram"
	"github.com/nextlevelbuilder/replygate/internal/classifier"
	"github.com/nextlevelbuilder/replygate/internal/config"
	"github.com/nextlevelbuilder/replygate/internal/dispatch"
	"github.com/nextlevelbuilder/replygate/internal/gating"
	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/providers"
	"github.com/nextlevelbuilder/replygate/internal/store"
	"github.com/nextlevelbuilder/replygate/internal/store/pg"
	"github.com/nextlevelbuilder/replygate/internal/store/sqlite"
	"github.com/nextlevelbuilder/replygate/internal/team"
	"github.com/nextlevelbuilder/replygate/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect to the configured chats and answer when appropriate (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(ctx context.Context) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configHash := cfg.Hash()
	slog.Info("config loaded", "path", resolveConfigPath(), "agent", cfg.Agent.ID, "hash", configHash)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, tracing.Identity{
		AgentID:    cfg.Agent.ID,
		Version:    Version,
		ConfigHash: configHash,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	msgLog, err := openMessageLog(cfg.Database)
	if err != nil {
		return err
	}
	defer msgLog.Close()

	msgBus := bus.NewWithBuffer(cfg.Gateway.InboundBuffer)
	defer msgBus.Close()

	channelMgr, usernames, err := startChannels(ctx, cfg, msgBus)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		channelMgr.StopAll(sctx)
	}()

	botUsername := cfg.Agent.Username
	if botUsername == "" && len(usernames) > 0 {
		botUsername = usernames[0]
	}
	agentName := cfg.Agent.Name
	if agentName == "" {
		agentName = cfg.Agent.ID
	}

	provider := newProvider(cfg.LLM)
	tuning, err := cfg.ToTuning()
	if err != nil {
		return err
	}
	engine, err := gating.New(gating.Options{
		Policy: team.NewPolicy(cfg.Team, cfg.Agent.ID, botUsername),
		Tuning: tuning,
		Classifier: classifier.New(provider, classifier.Options{
			Model:   cfg.LLM.ClassifierModel,
			Profile: cfg.Agent.SystemPrompt,
		}),
		Memory:    msgLog,
		AgentName: agentName,
	})
	if err != nil {
		return fmt.Errorf("create gating engine: %w", err)
	}
	defer engine.Close()
	for chatKey, threshold := range cfg.ChatKeyOverrides() {
		engine.Store().SetThresholdOverride(chatKey, threshold)
	}

	loop, err := agent.NewLoop(agent.LoopConfig{
		AgentID:   cfg.Agent.ID,
		AgentName: agentName,
		Engine:    engine,
		Router:    msgBus,
		Responder: agent.NewLLMResponder(provider, agent.LLMResponderConfig{
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxTokens:    cfg.LLM.MaxTokens,
			Temperature:  providers.Float(cfg.LLM.Temperature),
			HistoryLimit: cfg.Gateway.HistoryLimit,
		}),
		Dispatcher:   dispatch.NewDispatcher(channelMgr, cfg.Gateway.SendIntervalDuration(), cfg.Gateway.SendBurst),
		Recorder:     msgLog,
		HistoryLimit: cfg.Gateway.HistoryLimit,
		ReplyTimeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	sweeper, err := interest.NewSweeper(engine.Store(), cfg.Gateway.SweepSchedule)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if retention := cfg.Gateway.LogRetentionDuration(); retention > 0 {
		pruner, err := store.NewPruner(msgLog, cfg.Gateway.PruneSchedule, retention)
		if err != nil {
			return err
		}
		g.Go(func() error { return pruner.Run(gctx) })
	}

	slog.Info("replygate gateway starting",
		"version", Version,
		"agent", cfg.Agent.ID,
		"username", botUsername,
		"team", cfg.Team.IsPartOfTeam,
		"leader", cfg.Team.IsPartOfTeam && cfg.Team.LeaderID == cfg.Agent.ID,
		"channels", channelMgr.GetEnabledChannels(),
		"database", cfg.Database.Driver,
	)

	err = g.Wait()
	slog.Info("graceful shutdown initiated", "status", loop.String())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openMessageLog opens the configured message log backend.
func openMessageLog(db config.DatabaseConfig) (store.MessageLog, error) {
	switch db.Driver {
	case "", "sqlite":
		log, err := sqlite.Open(config.ExpandHome(db.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("open message log: %w", err)
		}
		return log, nil
	case "postgres":
		if db.PostgresDSN == "" {
			return nil, errors.New("REPLYGATE_POSTGRES_DSN environment variable is not set")
		}
		log, err := pg.Open(db.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open message log: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownDriver, db.Driver)
	}
}

func newProvider(llm config.LLMConfig) *providers.OpenAIProvider {
	retry := providers.DefaultRetryConfig()
	if llm.MaxRetries > 0 {
		retry.Attempts = llm.MaxRetries
	}
	p := providers.NewOpenAIProvider("openai", llm.APIKey, llm.APIBase, llm.Model).WithRetry(retry)
	if llm.TimeoutSec > 0 {
		p = p.WithTimeout(time.Duration(llm.TimeoutSec) * time.Second)
	}
	return p
}

// startChannels registers and starts the enabled transports. It returns the
// bot usernames of the transports that started, in registration order.
func startChannels(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus) (*channels.Manager, []string, error) {
	mgr := channels.NewManager()
	type namedChannel struct {
		name string
		ch   interface{ BotUsername() string }
	}
	var named []namedChannel

	if tc := cfg.Channels.Telegram; tc.Enabled && tc.Token != "" {
		ch, err := telegram.New(tc, msgBus)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
			named = append(named, namedChannel{"telegram", ch})
			slog.Info("telegram channel enabled", "allowlist", ch.HasAllowList())
		}
	}
	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		ch, err := discord.New(dc, msgBus)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
			named = append(named, namedChannel{"discord", ch})
			slog.Info("discord channel enabled", "allowlist", ch.HasAllowList())
		}
	}

	if len(mgr.GetEnabledChannels()) == 0 {
		return nil, nil, errors.New("no channel enabled: configure channels.telegram or channels.discord")
	}
	if err := mgr.StartAll(ctx); err != nil {
		return nil, nil, err
	}
	for _, name := range mgr.DropStopped() {
		slog.Warn("channel not running, replies to it are disabled", "channel", name)
	}

	var usernames []string
	for _, n := range named {
		if _, ok := mgr.GetChannel(n.name); !ok {
			continue
		}
		if u := n.ch.BotUsername(); u != "" {
			usernames = append(usernames, u)
		}
	}
	return mgr, usernames, nil
}
