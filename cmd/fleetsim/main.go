package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/config"
	"fleetsim/internal/db"
	"fleetsim/internal/metrics"
	"fleetsim/internal/publisher"
	"fleetsim/internal/runner"
	"fleetsim/internal/snapshot"
)

var logLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
	"fatal": logrus.FatalLevel,
	"panic": logrus.PanicLevel,
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})
	os.Exit(run())
}

func run() int {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	if level, ok := logLevels[cfg.LogLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", cfg.LogLevel)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Run.OvercrowdingFactor, cfg.Run.DeadRunSpeedKmph)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var (
		repo   runner.NetworkRepository
		writer runner.ScheduleWriter
	)
	if cfg.DatabaseURL != "" {
		store, err := openStore(ctx, cfg)
		if err != nil {
			logrus.Errorf("database: %v", err)
			return 1
		}
		defer store.Close()
		repo, writer = store, store
	} else {
		repo = snapshot.NewFileRepository(cfg.SnapshotFile)
		if cfg.PersistSchedule || cfg.Mode == config.ModeOptimize {
			logrus.Warn("no database configured, generated trips will not be persisted")
		}
	}

	var pub runner.EventPublisher
	if cfg.NATSURL != "" {
		var pm publisher.PublisherMetrics
		if mcol != nil {
			pm = metrics.PublisherMetrics{C: mcol}
		}
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, pm)
		if err != nil {
			logrus.Errorf("nats error: %v", err)
			return 1
		}
		defer np.Close()
		pub = np
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logrus.WithFields(logrus.Fields{"mode": cfg.Mode, "seed": seed}).Info("starting run")

	r := runner.New(repo, writer, pub, mcol, runner.Options{
		Params:            cfg.Run,
		Seed:              seed,
		PersistSchedule:   cfg.PersistSchedule,
		SimulateOptimized: cfg.SimulateOptimized,
		CSVExportDir:      cfg.CSVExportDir,
	})
	res := r.Run(ctx, cfg.Mode)
	r.Stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logrus.WithError(err).Error("encode result")
	}
	if res.Status != runner.StatusSuccess {
		return 1
	}
	logrus.Info("shutdown complete")
	return 0
}

// openStore connects to the configured database, switching to SCENARIO_DB
// when set, and makes sure the schema exists. With SEED_FROM_SNAPSHOT the
// snapshot file replaces the stored network first.
func openStore(ctx context.Context, cfg *config.Config) (*db.Store, error) {
	dsn := cfg.DatabaseURL
	if cfg.ScenarioDB != "" {
		var err error
		dsn, err = db.WithDBName(dsn, cfg.ScenarioDB)
		if err != nil {
			return nil, err
		}
		logrus.WithField("database", cfg.ScenarioDB).Info("using scenario database")
	}
	store, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if cfg.SeedFromSnapshot && cfg.SnapshotFile != "" {
		snap, err := snapshot.NewFileRepository(cfg.SnapshotFile).LoadSnapshot(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if err := store.ImportSnapshot(ctx, snap); err != nil {
			store.Close()
			return nil, err
		}
		logrus.WithField("file", cfg.SnapshotFile).Info("network seeded from snapshot")
	}
	return store, nil
}
