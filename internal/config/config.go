package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeSimulate = "simulate"
	ModeOptimize = "optimize"
)

type Config struct {
	DatabaseURL      string
	ScenarioDB       string // replaces the database name of DatabaseURL when set
	SnapshotFile     string
	SeedFromSnapshot bool // import SnapshotFile into the database before running

	Mode              string
	NATSURL           string // empty disables publishing
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	LogLevel          string
	CSVExportDir      string
	PersistSchedule   bool
	SimulateOptimized bool
	RandomSeed        int64 // 0 seeds from the clock

	Run RunParams
}

// RunParams are the recognised options of one simulate or optimize pass.
// Times are minutes from midnight.
type RunParams struct {
	UseOptimizedSchedule bool
	StartMinute          int
	EndMinute            int
	NumSlots             int // 0 derives the count from the window and slot length
	SlotLength           int
	Layover              int
	MinDemandThreshold   float64
	MinFreqTrips         int
	MinFreqPeriod        int
	RelaxMinFrequency    bool
	OvercrowdingFactor   float64
	DeadRunSpeedKmph     float64
	MinLayover           int
	MaxLayover           int
	MinTripsPerBus       int
	MaxTripsPerBus       int
	ReturnBuffer         int
	SchedulingInterval   int
	TripPenalty          float64
	SolverTimeLimit      time.Duration
	SolverMaxNodes       int
}

func DefaultRunParams() RunParams {
	return RunParams{
		StartMinute:        0,
		EndMinute:          24 * 60,
		SlotLength:         60,
		Layover:            10,
		MinDemandThreshold: 1,
		MinFreqPeriod:      60,
		OvercrowdingFactor: 1.0,
		DeadRunSpeedKmph:   30,
		MinLayover:         5,
		MaxLayover:         15,
		MinTripsPerBus:     1,
		MaxTripsPerBus:     5,
		ReturnBuffer:       60,
		SchedulingInterval: 5,
		TripPenalty:        0.01,
		SolverTimeLimit:    60 * time.Second,
		SolverMaxNodes:     20000,
	}
}

// Slots is NumSlots, or the number of whole slots in the window when unset.
func (p RunParams) Slots() int {
	if p.NumSlots > 0 {
		return p.NumSlots
	}
	if p.SlotLength <= 0 {
		return 0
	}
	return max(1, (p.EndMinute-p.StartMinute)/p.SlotLength)
}

func (p RunParams) Validate() error {
	var errs []error
	if p.EndMinute <= p.StartMinute {
		errs = append(errs, fmt.Errorf("END_TIME_MINUTES (%d) must be after START_TIME_MINUTES (%d)", p.EndMinute, p.StartMinute))
	}
	if p.SlotLength <= 0 {
		errs = append(errs, fmt.Errorf("SLOT_LENGTH_MINUTES must be positive, got %d", p.SlotLength))
	}
	if p.NumSlots < 0 {
		errs = append(errs, fmt.Errorf("NUM_SLOTS must not be negative, got %d", p.NumSlots))
	}
	if p.OvercrowdingFactor <= 0 {
		errs = append(errs, fmt.Errorf("OVERCROWDING_FACTOR must be positive, got %v", p.OvercrowdingFactor))
	}
	if p.MinLayover < 0 || p.MinLayover > p.MaxLayover {
		errs = append(errs, fmt.Errorf("layover range [%d, %d] is invalid", p.MinLayover, p.MaxLayover))
	}
	if p.MinTripsPerBus < 0 || p.MinTripsPerBus > p.MaxTripsPerBus {
		errs = append(errs, fmt.Errorf("trips per bus range [%d, %d] is invalid", p.MinTripsPerBus, p.MaxTripsPerBus))
	}
	if p.SchedulingInterval <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULING_INTERVAL_MINUTES must be positive, got %d", p.SchedulingInterval))
	}
	return errors.Join(errs...)
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.SnapshotFile = os.Getenv("SNAPSHOT_FILE")

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	} else {
		cfg.DatabaseURL = dsn
	}
	if cfg.DatabaseURL == "" && cfg.SnapshotFile == "" {
		return nil, errors.New("SNAPSHOT_FILE, DATABASE_URL or PGDATABASE must be set")
	}
	cfg.ScenarioDB = os.Getenv("SCENARIO_DB")

	cfg.Mode = strings.ToLower(getenvDefault("RUN_MODE", ModeSimulate))
	if cfg.Mode != ModeSimulate && cfg.Mode != ModeOptimize {
		return nil, fmt.Errorf("invalid RUN_MODE: %q", cfg.Mode)
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "fleetsim")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.CSVExportDir = os.Getenv("CSV_EXPORT_DIR")

	var err error
	p := &parser{}
	cfg.LogNATSSubjects = p.boolean("LOG_NATS_SUBJECTS", false)
	cfg.PersistSchedule = p.boolean("PERSIST_SCHEDULE", false)
	cfg.SimulateOptimized = p.boolean("SIMULATE_OPTIMIZED", false)
	cfg.SeedFromSnapshot = p.boolean("SEED_FROM_SNAPSHOT", false)
	cfg.RandomSeed = int64(p.integer("RANDOM_SEED", 0, 0))

	d := DefaultRunParams()
	cfg.Run = RunParams{
		UseOptimizedSchedule: p.boolean("USE_OPTIMIZED_SCHEDULE", false),
		StartMinute:          p.integer("START_TIME_MINUTES", d.StartMinute, 0),
		EndMinute:            p.integer("END_TIME_MINUTES", d.EndMinute, 0),
		NumSlots:             p.integer("NUM_SLOTS", d.NumSlots, 0),
		SlotLength:           p.integer("SLOT_LENGTH_MINUTES", d.SlotLength, 1),
		Layover:              p.integer("LAYOVER_MINUTES", d.Layover, 0),
		MinDemandThreshold:   p.float("MIN_DEMAND_THRESHOLD", d.MinDemandThreshold),
		MinFreqTrips:         p.integer("MIN_FREQUENCY_TRIPS_PER_PERIOD", d.MinFreqTrips, 0),
		MinFreqPeriod:        p.integer("MIN_FREQUENCY_PERIOD_MINUTES", d.MinFreqPeriod, 1),
		RelaxMinFrequency:    p.boolean("RELAX_MIN_FREQUENCY", false),
		OvercrowdingFactor:   p.float("OVERCROWDING_FACTOR", d.OvercrowdingFactor),
		DeadRunSpeedKmph:     p.float("DEAD_RUN_SPEED_KMPH", d.DeadRunSpeedKmph),
		MinLayover:           p.integer("MIN_LAYOVER_MINUTES", d.MinLayover, 0),
		MaxLayover:           p.integer("MAX_LAYOVER_MINUTES", d.MaxLayover, 0),
		MinTripsPerBus:       p.integer("MIN_TRIPS_PER_BUS", d.MinTripsPerBus, 0),
		MaxTripsPerBus:       p.integer("MAX_TRIPS_PER_BUS", d.MaxTripsPerBus, 0),
		ReturnBuffer:         p.integer("RETURN_BUFFER_MINUTES", d.ReturnBuffer, 0),
		SchedulingInterval:   p.integer("SCHEDULING_INTERVAL_MINUTES", d.SchedulingInterval, 1),
		TripPenalty:          p.float("TRIP_PENALTY", d.TripPenalty),
		SolverTimeLimit:      time.Duration(p.integer("SOLVER_TIME_LIMIT_SEC", int(d.SolverTimeLimit/time.Second), 0)) * time.Second,
		SolverMaxNodes:       p.integer("SOLVER_MAX_NODES", d.SolverMaxNodes, 1),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err = cfg.Run.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parser reads typed env values and keeps the first error.
type parser struct {
	err error
}

func (p *parser) integer(key string, def, min int) int {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		p.err = fmt.Errorf("invalid %s: %q", key, v)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		p.err = fmt.Errorf("invalid %s: %q", key, v)
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
