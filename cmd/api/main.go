package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/httpapi"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/obs"
	"crimewatch.org/internal/report"
	"crimewatch.org/internal/store/memory"
	"crimewatch.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	dev := flag.Bool("dev", false, "run with the in-memory store")
	flag.Parse()

	obs.Init()
	logger := obs.Logger()

	addr := os.Getenv("CRIMEWATCH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		identityStore  identity.Store
		elevationStore elevation.Store
		reportStore    report.Store
		ledger         audit.Ledger
		probe          httpapi.ReadyProbe
		closeStore     func() error
	)

	dsn := os.Getenv("CRIMEWATCH_PG_DSN")
	switch {
	case *dev || dsn == "":
		if dsn == "" && !*dev {
			logger.Warn("CRIMEWATCH_PG_DSN is not set, falling back to the in-memory store")
		}
		mem := memory.New()
		identityStore, elevationStore, reportStore, ledger = mem, mem, mem, mem
		closeStore = func() error { return nil }
	default:
		store, err := pg.Open(dsn)
		if err != nil {
			logger.Fatal("open postgres", zap.Error(err))
		}
		identityStore, elevationStore, reportStore, ledger = store, store, store, store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	}

	var identityOpts []identity.Option
	if raw := os.Getenv("CRIMEWATCH_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			logger.Fatal("invalid CRIMEWATCH_SESSION_TTL", zap.String("value", raw), zap.Error(err))
		}
		identityOpts = append(identityOpts, identity.WithSessionTTL(ttl))
	}

	identitySvc := identity.NewService(identityStore, ledger, identityOpts...)
	elevationSvc := elevation.NewService(elevationStore, ledger)
	reportSvc := report.NewService(reportStore, ledger)

	api := httpapi.New(identitySvc, elevationSvc, reportSvc, ledger, probe, version)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting crimewatch-api", zap.String("version", version), zap.String("addr", addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = closeStore()
	logger.Info("stopped")
}
