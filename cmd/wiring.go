package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/channels/discord"
	"github.com/cell0os/core/internal/channels/slack"
	"github.com/cell0os/core/internal/channels/telegram"
	"github.com/cell0os/core/internal/channels/webchat"
	"github.com/cell0os/core/internal/col"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/ethics"
	"github.com/cell0os/core/internal/gateway"
	"github.com/cell0os/core/internal/identity"
	"github.com/cell0os/core/internal/memory"
	"github.com/cell0os/core/internal/mesh"
	"github.com/cell0os/core/internal/metaagent"
	"github.com/cell0os/core/internal/skills"
	"github.com/cell0os/core/internal/tokenbudget"
)

// stack is every long-lived collaborator start wires together, kept
// around so stop/shutdown paths can close what open built.
type stack struct {
	cfg      *config.Config
	server   *gateway.Server
	channels *channels.Manager
	db       func() error // db.Close
	audit    *ethics.AuditLog
	watcher  func() // fsnotify watcher.Close, may be nil
	metaLoop *metaagent.Loop
}

// stateDir resolves the root of the on-disk layout every subsystem below
// hangs its own directory off of (spec §6's kernel/policies, identity/,
// checkpoints, daily logs).
func stateDir(cfg *config.Config) string {
	dir := cfg.Memory.StateDir
	if dir == "" {
		dir = "~/.cell0os"
	}
	return config.ExpandHome(dir)
}

// buildStack wires the full component graph behind one running gateway:
// bus, identity, channel adapters, skills policy engine, the three
// memory tiers plus checkpoint store, ethics consensus, the token
// ledger, the agent mesh, and col.Pipeline — the same collaborators
// internal/gateway/server_test.go's newTestServer wires by hand for
// tests, assembled here from real config instead of fixtures.
func buildStack(cfg *config.Config) (*stack, error) {
	root := stateDir(cfg)

	events := bus.NewEventBus(cfg.Gateway.ReplayBufferLen, 64)
	messages := bus.NewMessageBus(256)

	idPath := cfg.Identity.AllowlistPath
	if idPath == "" {
		idPath = filepath.Join(root, "identity", "allowlist.json")
	}
	idReg, err := identity.Load(idPath)
	if err != nil {
		return nil, fmt.Errorf("load identity allowlist: %w", err)
	}

	chMgr := channels.NewManager(messages)
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, messages, idReg)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		chMgr.RegisterChannel(ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, messages, idReg)
		if err != nil {
			return nil, fmt.Errorf("discord adapter: %w", err)
		}
		chMgr.RegisterChannel(ch)
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := slack.New(cfg.Channels.Slack, messages, idReg)
		if err != nil {
			return nil, fmt.Errorf("slack adapter: %w", err)
		}
		chMgr.RegisterChannel(ch)
	}
	if cfg.Channels.WebChat.Enabled {
		chMgr.RegisterChannel(webchat.New(cfg.Channels.WebChat, messages, idReg))
	}

	policiesDir := cfg.Policy.PoliciesDir
	if policiesDir == "" {
		policiesDir = filepath.Join(root, "kernel", "policies")
	}
	rules, err := skills.LoadRules(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("load skill policies: %w", err)
	}
	policyEngine := skills.NewPolicyEngine(rules)
	watcher, err := skills.WatchRules(policiesDir, policyEngine)
	if err != nil {
		return nil, fmt.Errorf("watch skill policies: %w", err)
	}

	dbPath := cfg.Database.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(root, "cell0.db")
	}
	db, err := memory.Open(dbPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	dailyDir := cfg.Memory.DailyLogDir
	if dailyDir == "" {
		dailyDir = filepath.Join(root, "memory", "daily")
	}
	daily, err := memory.NewDailyLog(dailyDir)
	if err != nil {
		db.Close()
		watcher.Close()
		return nil, fmt.Errorf("open daily log: %w", err)
	}
	notes, err := memory.NewNoteStore(db, cfg.Memory.LRUSize)
	if err != nil {
		db.Close()
		watcher.Close()
		return nil, fmt.Errorf("open note store: %w", err)
	}
	memLoader := memory.NewLoader(daily, notes)

	sessions := gateway.NewSessionManager(0, tokenbudget.NewEstimator().Estimate)

	checkpoints, err := memory.NewCheckpointStore(db, sessions)
	if err != nil {
		db.Close()
		watcher.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	auditDir := filepath.Join(root, "ethics", "audit")
	audit, err := ethics.NewAuditLog(auditDir)
	if err != nil {
		db.Close()
		watcher.Close()
		return nil, fmt.Errorf("open ethics audit log: %w", err)
	}
	consensus, err := ethics.NewConsensus(ethics.DefaultRules, audit)
	if err != nil {
		audit.Close()
		db.Close()
		watcher.Close()
		return nil, fmt.Errorf("build ethics consensus: %w", err)
	}

	ledger := tokenbudget.NewLedger(0)

	registry := mesh.NewRegistry(512)
	router := mesh.NewRouter()
	fence := mesh.NewFence()
	agentMesh := mesh.NewMesh(registry, router, fence, mesh.LeastLoaded)

	pipeline := col.NewPipeline(col.Config{
		Policies:    policyEngine,
		Memory:      memLoader,
		Ethics:      consensus,
		Checkpoints: checkpoints,
		Ledger:      ledger,
		Mesh:        agentMesh,
		Sessions:    sessions,
		Events:      events,
	})

	srv := gateway.NewServer(gateway.Deps{
		Config:      cfg,
		Events:      events,
		Messages:    messages,
		Identity:    idReg,
		Channels:    chMgr,
		Sessions:    sessions,
		Pipeline:    pipeline,
		Ethics:      consensus,
		Checkpoints: checkpoints,
	})
	srv.InstallLogTee()

	var metaLoop *metaagent.Loop
	if cfg.MetaAgent.Enabled {
		goalLogPath := filepath.Join(root, "meta", "goals.log")
		goals, err := metaagent.NewGoalManager(goalLogPath)
		if err != nil {
			audit.Close()
			db.Close()
			watcher.Close()
			return nil, fmt.Errorf("open meta-agent goal log: %w", err)
		}
		metaLoop = metaagent.NewLoop(pipeline, goals, noopMetrics{}, "meta-agent")
		metaLoop.Schedule = cfg.MetaAgent.Cron
	}

	return &stack{
		cfg:      cfg,
		server:   srv,
		channels: chMgr,
		db:       db.Close,
		audit:    audit,
		watcher:  func() { watcher.Close() },
		metaLoop: metaLoop,
	}, nil
}

// noopMetrics is the zero-signal MetricsSource a freshly started gateway
// has before any counters are wired up — REFLECT sees an all-zero
// snapshot and proposes nothing until real instrumentation replaces it.
type noopMetrics struct{}

func (noopMetrics) Snapshot(context.Context) metaagent.Metrics { return metaagent.Metrics{} }

func (s *stack) Close() {
	if s.audit != nil {
		s.audit.Close()
	}
	if s.watcher != nil {
		s.watcher()
	}
	if s.db != nil {
		s.db()
	}
}

// runChannels starts every registered adapter and the gateway's own
// ingress loop, then returns; the goroutines it starts stop once ctx is
// canceled.
func runChannels(ctx context.Context, st *stack) error {
	if err := st.cfg.Validate(); err != nil {
		return err
	}
	go st.server.RunIngress(ctx)
	if err := st.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}
	if st.metaLoop != nil {
		go st.metaLoop.Run(ctx)
	}
	return nil
}
