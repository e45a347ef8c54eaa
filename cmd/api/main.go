package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"leadline/internal/alerts"
	"leadline/internal/auth"
	"leadline/internal/compliance"
	"leadline/internal/config"
	"leadline/internal/consent"
	"leadline/internal/convlog"
	"leadline/internal/dashboard"
	"leadline/internal/hours"
	"leadline/internal/jobs"
	"leadline/internal/leads"
	"leadline/internal/nudge"
	"leadline/internal/outbound"
	"leadline/internal/ratelimit"
	"leadline/internal/safety"
	"leadline/internal/sms"
	"leadline/internal/store"
	"leadline/internal/telephony"
	"leadline/internal/tenants"
	"leadline/internal/voice"
	"leadline/internal/webhooks"
	"leadline/pkg/logger"
	"leadline/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openStore(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}

	if err := store.Migrate(rootCtx, db); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(rootCtx, db); err != nil {
		log.Error("schema check failed", "err", err)
		os.Exit(1)
	}

	// Redis is optional; the rate limiter falls back to the store without it.
	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Warn("redis unavailable, rate limiting falls back to store", "err", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Repositories.
	tenantRepo := tenants.NewSQLRepo(db)
	leadRepo := leads.NewSQLRepo(db)
	ledger := consent.NewSQLLedger(db)
	logSvc := convlog.NewService(convlog.NewSQLRepo(db))
	guard := webhooks.NewGuard(webhooks.NewSQLRepo(db))
	outRepo := outbound.NewSQLRepo(db)
	alertRepo := alerts.NewSQLRepo(db)

	clock := hours.New(cfg.Ops.DefaultTimezone, nil)
	optOuts := safety.NewOptOutCache()
	gate := safety.NewGate(optOuts, leadRepo, tenantRepo, ledger, clock, cfg.Ops.AdminPhone, log)
	queue := outbound.NewQueue(outRepo, gate, log)
	debouncer := alerts.NewDebouncer(alertRepo, queue, log)
	nudges := nudge.NewScheduler(queue, log)

	jobRunner := jobs.NewRunner(nil, nil, 2, 64, log)
	jobRunner.Start(rootCtx)
	defer jobRunner.Close()

	var gateway telephony.Gateway
	if cfg.Ops.SafeMode {
		log.Warn("safe mode: provider sends are simulated")
		gateway = telephony.NewFakeGateway()
	} else {
		gateway = telephony.NewTwilioGateway(
			cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, 0)
	}

	limiter := ratelimit.New(rdb, db, cfg.RateLimit.PerTenantPerMinute, time.Minute, log)

	replay, startReplay, err := openReplay(cfg, log)
	if err != nil {
		log.Error("replay queue init failed", "err", err)
		os.Exit(1)
	}

	voiceRouter := voice.NewRouter(voice.RouterConfig{
		Tenants:    tenantRepo,
		Leads:      leadRepo,
		Consent:    ledger,
		Convlog:    logSvc,
		Queue:      queue,
		Nudges:     nudges,
		Guard:      guard,
		Limiter:    limiter,
		Gateway:    gateway,
		Jobs:       jobRunner,
		Clock:      clock,
		KillSwitch: cfg.Ops.KillSwitch,
		Log:        log,
	})
	smsRouter := sms.NewRouter(sms.RouterConfig{
		Tenants:    tenantRepo,
		Leads:      leadRepo,
		Consent:    ledger,
		Convlog:    logSvc,
		Queue:      queue,
		Debouncer:  debouncer,
		Nudges:     nudges,
		Guard:      guard,
		Limiter:    limiter,
		OptOuts:    optOuts,
		Jobs:       jobRunner,
		Clock:      clock,
		KillSwitch: cfg.Ops.KillSwitch,
		Log:        log,
	})

	startReplay(rootCtx, replayHandler(voiceRouter, smsRouter))

	// Dead letters page the admin through the same queue; the alert itself is
	// internal so a gate rejection cannot loop.
	onDeadLetter := func(ctx context.Context, m outbound.Message) {
		_, err := queue.Enqueue(ctx, outbound.EnqueueRequest{
			TenantID:   m.TenantID,
			To:         cfg.Ops.AdminPhone,
			Body:       fmt.Sprintf("⚠️ Delivery permanently failed to %s after %d attempts.", logger.MaskPhone(m.To), m.Attempts),
			ExternalID: "deadletter_" + m.ID,
			Internal:   true,
		})
		if err != nil {
			log.Error("dead-letter alert enqueue failed", "message", m.ID, "err", err)
		}
	}
	dispatcher := outbound.NewDispatcher(
		outRepo, gate, gateway, leadRepo, logSvc, debouncer, onDeadLetter,
		outbound.DispatcherConfig{
			Workers:         cfg.Queue.Workers,
			ClaimBatch:      cfg.Queue.ClaimBatch,
			StuckTimeout:    cfg.Queue.StuckTimeout,
			MaxRetries:      cfg.Queue.MaxRetries,
			MaxPollInterval: cfg.Queue.MaxPollInterval,
			SafeMode:        cfg.Ops.SafeMode,
		}, log)
	go dispatcher.Run(rootCtx)

	// Terminal queue rows older than 90 days are noise; sweep them daily.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := outRepo.ArchiveOldMessages(rootCtx, time.Now().UTC().AddDate(0, 0, -90))
				if err != nil {
					log.Warn("message archival failed", "err", err)
				} else if n > 0 {
					log.Info("archived old messages", "rows", n)
				}
			}
		}
	}()

	complianceSvc := compliance.NewService(
		cfg.Ops.UnsubscribeSecret, tenantRepo, leadRepo, ledger, optOuts, log)

	dash := &dashboard.Handlers{
		Tenants: tenantRepo,
		Leads:   leadRepo,
		Convlog: logSvc,
		Health: dashboard.Health{
			KillSwitch:          cfg.Ops.KillSwitch,
			TelephonyConfigured: cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "",
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:       authManager,
		gateway:    gateway,
		voice:      voice.NewHandlers(voiceRouter, replay),
		sms:        sms.NewHandlers(smsRouter, outRepo, replay),
		compliance: compliance.NewHandlers(complianceSvc),
		dashboard:  dash,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "backend", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (*store.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Store.Backend {
	case "sqlite":
		db, err = utils.OpenSQLite(ctx, "sqlite3", utils.SQLiteConfig{Path: cfg.Store.SQLitePath})
		if err != nil {
			return nil, err
		}
		return store.New(db, store.DialectSQLite), nil
	default:
		db, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, err
		}
		return store.New(db, store.DialectPostgres), nil
	}
}

// openReplay returns the deferred-webhook queue and a function that starts
// its consumer. NATS gives persistence across restarts; the in-memory ring
// covers deployments without it.
func openReplay(cfg config.Config, log *slog.Logger) (webhooks.ReplayQueue, func(context.Context, webhooks.ReplayHandler), error) {
	if cfg.Replay.NATSURL == "" {
		mem := webhooks.NewMemoryReplay(1024, log)
		start := func(ctx context.Context, h webhooks.ReplayHandler) {
			go mem.Start(ctx, 30*time.Second, h)
		}
		return mem, start, nil
	}

	nc, err := nats.Connect(cfg.Replay.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, err
	}
	nr, err := webhooks.NewNATSReplay(nc, log)
	if err != nil {
		return nil, nil, err
	}
	start := func(ctx context.Context, h webhooks.ReplayHandler) {
		go func() {
			if err := nr.Start(ctx, h); err != nil {
				log.Error("replay consumer stopped", "err", err)
			}
		}()
	}
	return nr, start, nil
}

// replayHandler re-dispatches a deferred webhook through the same routers. A
// result that defers again returns an error so the event stays queued.
func replayHandler(vr *voice.Router, sr *sms.Router) webhooks.ReplayHandler {
	return func(ctx context.Context, e webhooks.RawEvent) error {
		get := func(key string) string { return e.Form.Get(key) }
		switch e.Kind {
		case "voice":
			res := vr.HandleCall(ctx, voice.CallEvent{
				From:    get("From"),
				To:      get("To"),
				CallSid: get("CallSid"),
				Digits:  get("Digits"),
			})
			if res.Defer {
				return errors.New("store still unavailable")
			}
		case "voice_status":
			res := vr.HandleDialStatus(ctx, voice.StatusEvent{
				CallSid:        get("CallSid"),
				DialCallStatus: get("DialCallStatus"),
				AnsweredBy:     get("AnsweredBy"),
				From:           get("From"),
				To:             get("To"),
			})
			if res.Defer {
				return errors.New("store still unavailable")
			}
		case "voicemail":
			res := vr.HandleVoicemail(ctx, voice.VoicemailEvent{
				CallSid:      get("CallSid"),
				From:         get("From"),
				To:           get("To"),
				RecordingURL: get("RecordingUrl"),
			})
			if res.Defer {
				return errors.New("store still unavailable")
			}
		case "sms":
			res := sr.Process(ctx, sms.Event{
				From:       get("From"),
				To:         get("To"),
				Body:       get("Body"),
				MessageSid: get("MessageSid"),
				SmsStatus:  get("SmsStatus"),
			})
			if res.Defer {
				return errors.New("store still unavailable")
			}
		default:
			// Unknown kinds are dropped; requeueing them forever helps nobody.
		}
		return nil
	}
}
