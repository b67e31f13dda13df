package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tink-crypto/tink-go/v2/keyset"

	"github.com/accordsai/courtlane/pkg/authn"
	"github.com/accordsai/courtlane/pkg/db"
	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/idempotency"
	"github.com/accordsai/courtlane/pkg/signature"
	"github.com/accordsai/courtlane/pkg/webhooks"
	"github.com/accordsai/courtlane/services/custody/internal/api"
	"github.com/accordsai/courtlane/services/custody/internal/config"
	"github.com/accordsai/courtlane/services/custody/internal/custody"
	"github.com/accordsai/courtlane/services/custody/internal/model"
	"github.com/accordsai/courtlane/services/custody/internal/notify"
	"github.com/accordsai/courtlane/services/custody/internal/oracle"
	"github.com/accordsai/courtlane/services/custody/internal/stake"
	"github.com/accordsai/courtlane/services/custody/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	validateOnly := flag.Bool("validate", false, "load and validate the config, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[courtlane] %v", err)
	}
	if *validateOnly {
		fmt.Println("config ok")
		return
	}

	ctx := context.Background()
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.Store.Driver == "postgres" || cfg.Ledger.Driver == "postgres" {
		pool = db.MustConnect(cfg.Store.DatabaseURL)
		closers = append(closers, pool.Close)
	}

	st, err := openStore(ctx, cfg.Store, pool)
	if err != nil {
		log.Fatalf("[courtlane] store: %v", err)
	}
	if c, ok := st.(interface{ Close() error }); ok {
		closers = append(closers, func() { _ = c.Close() })
	}

	ledger, err := openLedger(ctx, cfg.Ledger, pool)
	if err != nil {
		log.Fatalf("[courtlane] ledger: %v", err)
	}

	scheme, err := fhe.NewLocal(cfg.Oracle.FHESecret)
	if err != nil {
		log.Fatalf("[courtlane] fhe: %v", err)
	}
	if cfg.Oracle.FHESecret == "" {
		log.Printf("[courtlane] no fhe secret configured; encrypted handles will not survive a restart")
	}

	notifiers := notify.Fanout{}
	var hub *notify.Hub
	if cfg.Notify.Websocket {
		hub = notify.NewHub()
		notifiers = append(notifiers, hub)
	}
	var history *notify.JSONLSink
	if cfg.Notify.JSONLPath != "" {
		history, err = notify.NewJSONLSink(cfg.Notify.JSONLPath)
		if err != nil {
			log.Fatalf("[courtlane] event log: %v", err)
		}
		closers = append(closers, func() { _ = history.Close() })
		notifiers = append(notifiers, history)
	}
	var recent *notify.RedisPublisher
	if cfg.Notify.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Notify.RedisURL)
		if err != nil {
			log.Fatalf("[courtlane] redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[courtlane] redis ping failed, events will retry on publish: %v", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		recent = notify.NewRedisPublisher(rdb, cfg.Notify.RedisChannel, cfg.Notify.RedisHistory)
		notifiers = append(notifiers, recent)
	}

	oracleID := model.Identity(cfg.Oracle.Identity)
	var (
		oc       oracle.Client
		local    *oracle.Local
		verifier *signature.Verifier
	)
	switch cfg.Oracle.Mode {
	case "http":
		pub, err := signature.LoadPublicKeyset(cfg.Oracle.PublicKeyset)
		if err != nil {
			log.Fatalf("[courtlane] oracle keyset: %v", err)
		}
		if verifier, err = signature.NewVerifier(pub); err != nil {
			log.Fatalf("[courtlane] oracle verifier: %v", err)
		}
		oc = oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.Token, cfg.Oracle.CallbackURL)
	default:
		h, err := signingKeyset(cfg.Oracle.SigningKeyset)
		if err != nil {
			log.Fatalf("[courtlane] oracle keyset: %v", err)
		}
		signer, err := signature.NewSigner(h)
		if err != nil {
			log.Fatalf("[courtlane] oracle signer: %v", err)
		}
		if verifier, err = signature.NewVerifier(h); err != nil {
			log.Fatalf("[courtlane] oracle verifier: %v", err)
		}
		last, err := lastRequestID(ctx, st)
		if err != nil {
			log.Fatalf("[courtlane] read counters: %v", err)
		}
		local = oracle.NewLocal(oracleID, scheme, signer, last+1)
		oc = local
	}

	engine := custody.New(custody.Config{
		MinDuration:       cfg.Custody.MinDuration,
		MaxDuration:       cfg.Custody.MaxDuration,
		EvidenceTimeout:   cfg.Custody.EvidenceTimeout,
		RefundGrace:       cfg.Custody.RefundGrace,
		DecryptionTimeout: cfg.Custody.DecryptionTimeout,
		OracleIdentity:    oracleID,
	}, st, scheme, ledger, oc, verifier, custody.WithNotifier(notifiers))

	if err := engine.Bootstrap(ctx, model.Identity(cfg.Custody.Admin)); err != nil {
		log.Fatalf("[courtlane] bootstrap %s: %v", cfg.Custody.Admin, err)
	}

	if local != nil {
		local.Attach(engine)
		local.Start()
		closers = append(closers, local.Stop)
	}

	auth := authn.Chain{authn.NewStaticTokens(cfg.Auth.Tokens)}
	var idem idempotency.Store = idempotency.NewMemoryStore()
	if pool != nil {
		if _, err := pool.Exec(ctx, authn.Schema); err != nil {
			log.Fatalf("[courtlane] auth schema: %v", err)
		}
		if _, err := pool.Exec(ctx, idempotency.Schema); err != nil {
			log.Fatalf("[courtlane] idempotency schema: %v", err)
		}
		auth = append(auth, authn.NewPGTokens(pool))
		idem = idempotency.NewPGStore(pool)
	}

	srv := &api.Server{
		Engine:         engine,
		Auth:           auth,
		Idem:           idem,
		OracleIdentity: oracleID,
	}
	if cfg.Oracle.HMACSecret != "" {
		srv.Callbacks = webhooks.NewCallbackVerifier(cfg.Oracle.Identity)
		srv.CallbackSecret = cfg.Oracle.HMACSecret
	}
	if hub != nil {
		srv.Events = hub
	}
	if history != nil {
		srv.History = history
	}
	if recent != nil {
		srv.Recent = recent
	}

	watchdog := custody.NewWatchdog(engine, cfg.Custody.WatchdogInterval)
	watchdog.Start()
	closers = append(closers, watchdog.Stop)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("[courtlane] custody listening on %s (store=%s ledger=%s oracle=%s)",
			httpSrv.Addr, cfg.Store.Driver, cfg.Ledger.Driver, cfg.Oracle.Mode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Printf("[courtlane] server error: %v", err)
	case <-interrupt:
		log.Printf("[courtlane] shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[courtlane] shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, pool *pgxpool.Pool) (store.Store, error) {
	switch cfg.Driver {
	case "journal":
		return store.OpenJournal(cfg.JournalPath)
	case "postgres":
		s := store.NewPGStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, pool *pgxpool.Pool) (stake.Ledger, error) {
	if cfg.Driver == "postgres" {
		l := stake.NewPGLedger(pool)
		if err := l.Migrate(ctx); err != nil {
			return nil, err
		}
		if len(cfg.Accounts) > 0 {
			// Fund adds to the balance, so seeding here would repeat on each start.
			log.Printf("[courtlane] ledger.accounts ignored for the postgres ledger")
		}
		return l, nil
	}
	l := stake.NewMemoryLedger()
	for acct, amount := range cfg.Accounts {
		if err := l.Fund(acct, amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", acct, err)
		}
	}
	return l, nil
}

func signingKeyset(path string) (*keyset.Handle, error) {
	if path != "" {
		return signature.LoadPrivateKeyset(path)
	}
	log.Printf("[courtlane] no oracle signing keyset configured; generated an ephemeral one")
	return signature.GenerateKeyset()
}

// lastRequestID seeds the in-process oracle so ids keep increasing across
// restarts of a durable store.
func lastRequestID(ctx context.Context, st store.Store) (uint64, error) {
	var c model.Counters
	err := st.View(ctx, func(tx store.Tx) error {
		_, err := tx.Get(ctx, store.KindState, store.KeyCounters, &c)
		return err
	})
	return c.LastRequestID, err
}
