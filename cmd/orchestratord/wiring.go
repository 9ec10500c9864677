package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskmesh/orchestrator/internal/auth"
	"github.com/taskmesh/orchestrator/internal/bus"
	cfgmanager "github.com/taskmesh/orchestrator/internal/config"
	"github.com/taskmesh/orchestrator/internal/decomposer"
	"github.com/taskmesh/orchestrator/internal/health"
	"github.com/taskmesh/orchestrator/internal/httpapi"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	"github.com/taskmesh/orchestrator/internal/optimizer"
	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/personas"
	"github.com/taskmesh/orchestrator/internal/policy"
	"github.com/taskmesh/orchestrator/internal/ratecontrol"
	"github.com/taskmesh/orchestrator/internal/templates"
	"github.com/taskmesh/orchestrator/internal/tracing"
	"github.com/taskmesh/orchestrator/internal/tracker"
)

// app bundles every long-lived collaborator so shutdown can close them in
// the right order.
type app struct {
	logger        *zap.Logger
	server        *httpapi.Server
	personaMgr    *personas.Manager
	conversations *memory.ConversationStore
	workflows     *memory.WorkflowStore
	configMgr     *cfgmanager.PolicyManager
	bus           *bus.Bus
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func buildApp(s *settings) (*app, error) {
	logger, err := newLogger(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	if err := tracing.Initialize(tracing.Config{Enabled: true, ServiceName: "orchestratord"}, logger); err != nil {
		logger.Warn("tracing initialization failed, continuing without spans", zap.Error(err))
	}

	eventBus := bus.New(bus.DefaultQueueSize)

	inferenceClient := inference.New(inference.Config{BaseURL: s.InferenceHost}, logger)

	personaCfg, err := personas.LoadStoreConfig(viperWith(map[string]any{
		"personas.path":      filepath.Join(s.DataDir, "personas.store"),
		"personas.seed_dir":  filepath.Join(s.ConfigDir, "personas"),
		"personas.cache_ttl": time.Hour,
	}))
	if err != nil {
		return nil, fmt.Errorf("load persona config: %w", err)
	}
	personaMgr, err := personas.NewManager(personaCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}

	conversations, err := memory.NewConversationStore(s.RedisAddr(), 0, logger)
	if err != nil {
		personaMgr.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	workflows, err := memory.NewWorkflowStore(filepath.Join(s.DataDir, "workflows"), logger)
	if err != nil {
		personaMgr.Close()
		conversations.Close()
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	opt := optimizer.New(personaMgr, logger)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(filepath.Join(s.ConfigDir, "templates")); err != nil {
		logger.Warn("failed to load decomposition templates, only simple tasks can be decomposed", zap.Error(err))
	}
	if err := registry.Finalize(); err != nil {
		logger.Warn("template registry finalize failed", zap.Error(err))
	}

	dec := decomposer.New(decomposer.Config{
		Registry:    registry,
		Refiner:     inferenceClient,
		RefineModel: inferenceClient.ResolveModel("default", nil),
		Recommender: opt,
	}, logger)

	semaphore := ratecontrol.NewSemaphore(ratecontrol.DefaultConcurrency, 0)

	env := &orchestrator.Environment{
		Inference:         inferenceClient,
		Personas:          personaMgr,
		Bus:               eventBus,
		Tracker:           tracker.New(),
		ShortTerm:         conversations,
		LongTerm:          workflows,
		Optimizer:         opt,
		Decomposer:        dec,
		Semaphore:         semaphore,
		Logger:            logger,
		DefaultModelClass: "default",
	}
	orch := orchestrator.New(env)

	healthMgr := health.NewManager(logger)
	if err := healthMgr.RegisterChecker(health.NewInferenceBackendHealthChecker(s.InferenceHost, logger)); err != nil {
		logger.Warn("failed to register inference backend health checker", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = healthMgr.Start(ctx)
	cancel()

	policyCfg := &policy.Config{Enabled: true, Mode: policy.ModeEnforce, Path: s.PolicyDir, FailClosed: false, Environment: "production"}
	policyEngine, err := policy.NewOPAEngine(policyCfg, logger)
	if err != nil {
		logger.Warn("policy engine unavailable, falling back to the static CORS rule", zap.Error(err))
		policyEngine = nil
	}

	signingKey := s.SigningKey
	if signingKey == "" {
		logger.Warn("no signing key configured, generating an ephemeral one: tokens will not survive a restart")
		signingKey = ephemeralSigningKey()
	}
	jwtMgr := auth.NewJWTManager(signingKey, 15*time.Minute, 24*time.Hour)
	authMw := auth.NewMiddleware(jwtMgr, s.SkipAuth)

	var cfgMgr *cfgmanager.PolicyManager
	if mgr, err := cfgmanager.NewConfigManager(s.PolicyDir, logger); err != nil {
		logger.Warn("config hot-reload unavailable", zap.Error(err))
	} else {
		mgr.RegisterPolicyHandler(func() error {
			if policyEngine == nil {
				return nil
			}
			if err := policyEngine.LoadPolicies(); err != nil {
				return err
			}
			eventBus.Publish(bus.Event{Type: bus.KnowledgeReloaded, Payload: map[string]any{"source": "policy"}})
			return nil
		})
		if err := mgr.Start(context.Background()); err != nil {
			logger.Warn("config manager failed to start", zap.Error(err))
		} else {
			cfgMgr = mgr
		}
	}

	server := &httpapi.Server{
		Orchestrator:  orch,
		Personas:      personaMgr,
		Conversations: conversations,
		Workflows:     workflows,
		Optimizer:     opt,
		Bus:           eventBus,
		Health:        healthMgr,
		Policy:        engineOrNil(policyEngine),
		Auth:          authMw,
		Inference:     inferenceClient,
		Logger:        logger,
	}

	return &app{
		logger:        logger,
		server:        server,
		personaMgr:    personaMgr,
		conversations: conversations,
		workflows:     workflows,
		configMgr:     cfgMgr,
		bus:           eventBus,
	}, nil
}

// engineOrNil avoids storing a typed-nil *policy.OPAEngine in the
// Server's policy.Engine interface field, which would compare non-nil
// and break withCORS's fallback path.
func engineOrNil(e *policy.OPAEngine) policy.Engine {
	if e == nil {
		return nil
	}
	return e
}

func (a *app) shutdown() {
	if a.configMgr != nil {
		a.configMgr.Stop()
	}
	a.personaMgr.Close()
	a.conversations.Close()
	a.workflows.Close()
	_ = a.logger.Sync()
}

func viperWith(defaults map[string]any) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// ephemeralSigningKey generates a random HS256 signing key for a process
// that wasn't handed one explicitly. Tokens issued this way stop
// validating across a restart, which is acceptable for a single
// locally-hosted engine but not for a multi-instance deployment.
func ephemeralSigningKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "orchestratord-ephemeral-signing-key"
	}
	return hex.EncodeToString(buf)
}
