package main

import (
	"context"
	"fmt"
	"log/slog"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/Strob0t/CoachForge/internal/adapter/anthropic"
	cfhttp "github.com/Strob0t/CoachForge/internal/adapter/http"
	"github.com/Strob0t/CoachForge/internal/adapter/memstore"
	"github.com/Strob0t/CoachForge/internal/adapter/modelrouter"
	cfnats "github.com/Strob0t/CoachForge/internal/adapter/nats"
	"github.com/Strob0t/CoachForge/internal/adapter/natskv"
	"github.com/Strob0t/CoachForge/internal/adapter/openai"
	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/adapter/postgres"
	cfredis "github.com/Strob0t/CoachForge/internal/adapter/redis"
	cfristretto "github.com/Strob0t/CoachForge/internal/adapter/ristretto"
	"github.com/Strob0t/CoachForge/internal/adapter/smsqueue"
	"github.com/Strob0t/CoachForge/internal/adapter/tiered"
	"github.com/Strob0t/CoachForge/internal/catalog"
	"github.com/Strob0t/CoachForge/internal/config"
	"github.com/Strob0t/CoachForge/internal/port/cache"
	"github.com/Strob0t/CoachForge/internal/port/database"
	"github.com/Strob0t/CoachForge/internal/port/messenger"
	"github.com/Strob0t/CoachForge/internal/port/notifier"
	"github.com/Strob0t/CoachForge/internal/registry"
	"github.com/Strob0t/CoachForge/internal/seed"
	"github.com/Strob0t/CoachForge/internal/service"
)

// app holds every long-lived component. Both the server and the admin
// commands build one; close releases resources in reverse order.
type app struct {
	cfg     *config.Config
	metrics *cfotel.Metrics

	pool    *pgxpool.Pool // nil with the memory driver
	store   database.Store
	queue   *cfnats.Queue // nil when nats.url is empty
	cache   cache.Cache
	router  *modelrouter.Router
	sms     messenger.Messenger
	regs    *registry.Set
	checks  []cfhttp.HealthCheck
	closers []func()

	definitions *service.DefinitionService
	renderer    *service.ContextRenderer
	runner      *service.AgentRunner
	drafts      *service.DraftArena
	executor    *service.OnboardingExecutor
	triggers    *service.TriggerConsumer
	seeder      *seed.Applier
}

type buildOptions struct {
	migrate bool // apply pending migrations on connect
	queue   bool // connect to NATS when configured
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func buildApp(ctx context.Context, cfg *config.Config, opts buildOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.metrics, err = cfotel.NewMetrics(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if err = a.openStore(ctx, opts.migrate); err != nil {
		return nil, err
	}
	if opts.queue && cfg.NATS.URL != "" {
		if err = a.openQueue(ctx); err != nil {
			return nil, err
		}
	}
	if err = a.buildCache(ctx); err != nil {
		return nil, err
	}
	if err = a.buildModels(); err != nil {
		return nil, err
	}
	a.buildMessenger()

	deps := catalog.Deps{Fitness: a.store, Users: a.store, Messenger: a.sms}
	if cfg.Alerts.Provider != "" {
		if deps.Alerts, err = notifier.New(cfg.Alerts.Provider, map[string]string{"webhook_url": cfg.Alerts.WebhookURL}); err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		slog.InfoContext(ctx, "operator alerts enabled", "provider", cfg.Alerts.Provider)
	}

	a.regs = registry.NewSet()
	if err = catalog.Register(a.regs, deps); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	a.buildServices()
	return a, nil
}

// --- Infrastructure ---

func (a *app) openStore(ctx context.Context, migrate bool) error {
	if a.cfg.Store.Driver == "memory" {
		a.store = memstore.New()
		slog.WarnContext(ctx, "using in-memory store; state is lost on exit")
		return nil
	}

	pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	a.onClose(pool.Close)
	slog.InfoContext(ctx, "postgres connected", "max_conns", a.cfg.Postgres.MaxConns)

	if migrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.InfoContext(ctx, "migrations applied")
	}

	store := postgres.NewStore(pool)
	a.store = store
	a.checks = append(a.checks, cfhttp.HealthCheck{Name: "postgres", Check: store.Ping})
	return nil
}

func (a *app) openQueue(ctx context.Context) error {
	q, err := cfnats.Connect(ctx, a.cfg.NATS.URL, cfnats.Options{
		Name:       a.cfg.Logging.Service,
		MaxDeliver: a.cfg.NATS.MaxDeliver,
		NakDelay:   a.cfg.NATS.NakDelay,
		Metrics:    a.metrics,
	})
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	a.queue = q
	a.onClose(func() {
		if err := q.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	})
	a.checks = append(a.checks, cfhttp.HealthCheck{Name: "nats", Check: func(context.Context) error {
		if !q.IsConnected() {
			return fmt.Errorf("nats disconnected")
		}
		return nil
	}})
	slog.InfoContext(ctx, "nats connected", "url", a.cfg.NATS.URL)
	return nil
}

// buildCache assembles the ristretto L1 with the configured L2 behind it.
func (a *app) buildCache(ctx context.Context) error {
	l1, err := cfristretto.New(a.cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	a.onClose(l1.Close)

	var l2 cache.Cache
	switch a.cfg.Cache.L2Backend {
	case "nats":
		if a.queue == nil {
			slog.WarnContext(ctx, "nats l2 cache configured without a queue connection; using l1 only")
			break
		}
		kv, err := a.queue.KeyValue(ctx, a.cfg.Cache.L2Bucket, a.cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("l2 cache bucket: %w", err)
		}
		l2 = natskv.New(kv)
	case "redis":
		rc, err := cfredis.Dial(ctx, a.cfg.Cache.RedisURL, "coachforge:")
		if err != nil {
			return fmt.Errorf("l2 cache redis: %w", err)
		}
		a.onClose(func() { _ = rc.Close() })
		a.checks = append(a.checks, cfhttp.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			_, _, err := rc.Get(ctx, "health")
			return err
		}})
		l2 = rc
	}

	if l2 == nil {
		a.cache = l1
		return nil
	}
	tc := tiered.New(l1, l2, a.cfg.Cache.L2TTL)
	if a.queue != nil {
		stop, err := tc.AttachEvictions(a.queue)
		if err != nil {
			return fmt.Errorf("cache evictions: %w", err)
		}
		a.onClose(stop)
	}
	a.cache = tc
	slog.InfoContext(ctx, "tiered cache ready", "l2", a.cfg.Cache.L2Backend, "evictions", a.queue != nil)
	return nil
}

// buildModels registers a route per vendor with an API key.
func (a *app) buildModels() error {
	c := a.cfg
	a.router = modelrouter.New(c.LLM.DefaultVendor, a.metrics)
	lim := modelrouter.Limits{
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		MaxFailures:       c.Breaker.MaxFailures,
		BreakerTimeout:    c.Breaker.Timeout,
	}

	if c.LLM.AnthropicAPIKey != "" {
		m, err := anthropic.NewFromAPIKey(c.LLM.AnthropicAPIKey, anthropicopt.WithRequestTimeout(c.LLM.Timeout))
		if err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}
		a.router.Register("anthropic", m, lim)
	}
	if c.LLM.OpenAIAPIKey != "" {
		m, err := openai.NewFromAPIKey(c.LLM.OpenAIAPIKey, openaiopt.WithRequestTimeout(c.LLM.Timeout))
		if err != nil {
			return fmt.Errorf("openai: %w", err)
		}
		a.router.Register("openai", m, lim)
	}
	if len(a.router.Vendors()) == 0 {
		slog.Warn("no model provider configured; agent runs will fail until an API key is set")
	}
	return nil
}

// buildMessenger publishes SMS requests when a queue is available and
// otherwise only logs outbound messages.
func (a *app) buildMessenger() {
	if a.queue != nil {
		a.sms = smsqueue.New(a.queue, a.cfg.NATS.SMSSubject)
		return
	}
	a.sms = smsqueue.LogMessenger{}
}

// --- Services ---

func (a *app) buildServices() {
	c := a.cfg
	a.definitions = service.NewDefinitionService(a.store, a.store, a.cache, c.Cache.DefinitionTTL)
	a.renderer = service.NewContextRenderer(a.store)
	resolver := service.NewExtensionResolver(a.store, a.metrics)
	a.runner = service.NewAgentRunner(a.definitions, resolver, a.renderer, a.regs, a.router,
		service.WithRunnerMetrics(a.metrics))
	a.drafts = service.NewDraftArena(a.cache, c.Cache.DraftTTL)
	a.executor = service.NewOnboardingExecutor(a.store, a.runner, a.renderer, a.sms, c.Onboarding,
		service.WithOnboardingMetrics(a.metrics),
		service.WithDrafts(a.drafts))
	if a.queue != nil {
		a.triggers = service.NewTriggerConsumer(a.queue, a.executor, c.NATS.TriggerSubject)
	}
	a.seeder = seed.NewApplier(a.definitions, a.store, a.store)
}

// applySeed loads the embedded seed plus the configured overlay, checks it
// against the registered tools and writes changed rows.
func (a *app) applySeed(ctx context.Context, dryRun bool) (*seed.Report, error) {
	f, err := seed.Load(a.cfg.Seed.Path)
	if err != nil {
		return nil, err
	}
	if err := f.CheckTools(a.regs.Tools.Has); err != nil {
		return nil, err
	}
	return a.seeder.Apply(ctx, f, dryRun)
}
