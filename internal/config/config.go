package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trip-tracker/internal/geo"
)

type Config struct {
	DatabaseURL    string
	TripsDatabase  string
	MigrateOnStart bool

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	TickInterval    time.Duration
	EmitInterval    time.Duration
	DisplayInterval time.Duration
	RecordInterval  time.Duration
	SyncInterval    time.Duration

	SpeedMultiplier       float64
	ReplaySpeedMultiplier float64
	SpeedHistorySize      int
	SpeedUnit             geo.Unit
	RandomSeed            uint64

	DemoRouteFile  string
	ReplayTripID   string
	ReplayGPXFile  string
	NMEASerialPort string
	NMEABaudRate   int

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Trip store: prefer DATABASE_URL / PG_DSN, then PG* vars, else a local SQLite file.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	switch {
	case dsn != "":
		cfg.DatabaseURL = dsn
	case os.Getenv("PGDATABASE") != "":
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	default:
		cfg.DatabaseURL = "sqlite://trip-tracker.db"
	}
	// Overrides the database name of a postgres DSN.
	cfg.TripsDatabase = os.Getenv("TRIPS_DATABASE")

	var err error
	if cfg.MigrateOnStart, err = boolEnv("MIGRATE_ON_START", true); err != nil {
		return nil, err
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "trips")
	if cfg.LogNATSSubjects, err = boolEnv("LOG_NATS_SUBJECTS", false); err != nil {
		return nil, err
	}

	intervals := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"TICK_INTERVAL_MS", 100 * time.Millisecond, &cfg.TickInterval},
		{"EMIT_INTERVAL_MS", 2 * time.Second, &cfg.EmitInterval},
		{"DISPLAY_INTERVAL_MS", 2 * time.Second, &cfg.DisplayInterval},
		{"RECORD_INTERVAL_MS", 2 * time.Second, &cfg.RecordInterval},
		{"SYNC_INTERVAL_MS", 2 * time.Second, &cfg.SyncInterval},
	}
	for _, iv := range intervals {
		if *iv.dest, err = millisEnv(iv.key, iv.def); err != nil {
			return nil, err
		}
	}

	if cfg.SpeedMultiplier, err = positiveFloatEnv("SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}
	if cfg.ReplaySpeedMultiplier, err = positiveFloatEnv("REPLAY_SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}

	if v := os.Getenv("SPEED_HISTORY_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SPEED_HISTORY_SIZE: %q", v)
		}
		cfg.SpeedHistorySize = n
	} else {
		cfg.SpeedHistorySize = 100
	}

	if cfg.SpeedUnit, err = geo.ParseUnit(getenvDefault("SPEED_UNIT", "mph")); err != nil {
		return nil, fmt.Errorf("invalid SPEED_UNIT: %q", os.Getenv("SPEED_UNIT"))
	}

	// 0 lets the simulator derive a seed from the clock.
	if v := os.Getenv("RANDOM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RANDOM_SEED: %q", v)
		}
		cfg.RandomSeed = seed
	}

	cfg.DemoRouteFile = os.Getenv("DEMO_ROUTE_FILE")
	cfg.ReplayTripID = os.Getenv("REPLAY_TRIP_ID")
	cfg.ReplayGPXFile = os.Getenv("REPLAY_GPX_FILE")
	if cfg.ReplayTripID != "" && cfg.ReplayGPXFile != "" {
		return nil, fmt.Errorf("REPLAY_TRIP_ID and REPLAY_GPX_FILE are mutually exclusive")
	}

	cfg.NMEASerialPort = os.Getenv("NMEA_SERIAL_PORT")
	if v := os.Getenv("NMEA_BAUD_RATE"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("invalid NMEA_BAUD_RATE: %q", v)
		}
		cfg.NMEABaudRate = baud
	} else {
		cfg.NMEABaudRate = 9600
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	return cfg, nil
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

func boolEnv(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", k, v)
}

func millisEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func positiveFloatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
