package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"carbonx/internal/ledger"
	"carbonx/internal/reconcile"
	"carbonx/pkg/conn"
	"carbonx/pkg/retry"
)

// FileConfig mirrors the JSON config layout. Durations are given in
// Go duration syntax ("30s", "2m").
type FileConfig struct {
	Postgres  PostgresConfig     `json:"postgres"`
	Ledger    LedgerConfig       `json:"ledger"`
	Matching  MatchingConfig     `json:"matching"`
	Reconcile ReconcileConfig    `json:"reconcile"`
	Kafka     KafkaConfig        `json:"kafka"`
	Features  FeatureFlagsConfig `json:"features"`
}

// PostgresConfig describes the durable store connection. An empty host
// selects the in-memory store, which only suits tests and local runs.
type PostgresConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	Database        string `json:"database"`
	SSLMode         string `json:"sslMode"`
	MaxOpenConns    int    `json:"maxOpenConns"`
	MaxIdleConns    int    `json:"maxIdleConns"`
	ConnMaxLifetime string `json:"connMaxLifetime"`
}

// LedgerConfig describes the registry ledger endpoint and retry shape.
type LedgerConfig struct {
	// Mode is "http" or "stub".
	Mode           string `json:"mode"`
	BaseURL        string `json:"baseUrl"`
	SubmitAttempts int    `json:"submitAttempts"`
	ConfirmWait    string `json:"confirmWait"`
	PollInterval   string `json:"pollInterval"`
	BackoffMin     string `json:"backoffMin"`
	BackoffMax     string `json:"backoffMax"`
	BackoffFactor  float64 `json:"backoffFactor"`
}

// MatchingConfig tunes the match loop and settlement workers.
type MatchingConfig struct {
	Interval string `json:"interval"`
	Workers  int    `json:"workers"`
	QueueCap int    `json:"queueCap"`
	EventCap int    `json:"eventCap"`
}

// ReconcileConfig tunes the reconciliation sweep.
type ReconcileConfig struct {
	Interval string `json:"interval"`
	Grace    string `json:"grace"`
	Abandon  string `json:"abandon"`
}

// KafkaConfig describes the event stream sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	AutoMigrate *bool `json:"autoMigrate"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	AutoMigrate bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Postgres      *conn.Option
	Ledger        LedgerSpec
	MatchInterval time.Duration
	Workers       int
	QueueCap      int
	EventCap      int
	Reconcile     reconcile.Config
	Kafka         KafkaConfig
	Features      FeatureFlags
}

// LedgerSpec is the resolved ledger endpoint definition.
type LedgerSpec struct {
	Mode    string
	BaseURL string
	Gateway ledger.GatewayConfig
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	pg, err := resolvePostgres(cfg.Postgres)
	if err != nil {
		return Loaded{}, err
	}
	ledgerSpec, err := resolveLedger(cfg.Ledger)
	if err != nil {
		return Loaded{}, err
	}
	matchInterval, err := durationOr(cfg.Matching.Interval, time.Second)
	if err != nil {
		return Loaded{}, fmt.Errorf("matching.interval: %w", err)
	}
	rec, err := resolveReconcile(cfg.Reconcile)
	if err != nil {
		return Loaded{}, err
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		return Loaded{}, fmt.Errorf("kafka.topic is required when brokers are set")
	}

	return Loaded{
		Postgres:      pg,
		Ledger:        ledgerSpec,
		MatchInterval: matchInterval,
		Workers:       cfg.Matching.Workers,
		QueueCap:      cfg.Matching.QueueCap,
		EventCap:      cfg.Matching.EventCap,
		Reconcile:     rec,
		Kafka:         cfg.Kafka,
		Features:      resolveFeatures(cfg.Features),
	}, nil
}

func resolvePostgres(cfg PostgresConfig) (*conn.Option, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	lifetime, err := durationOr(cfg.ConnMaxLifetime, 0)
	if err != nil {
		return nil, fmt.Errorf("postgres.connMaxLifetime: %w", err)
	}
	return &conn.Option{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: lifetime,
	}, nil
}

func resolveLedger(cfg LedgerConfig) (LedgerSpec, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = "stub"
	}
	switch mode {
	case "http":
		if cfg.BaseURL == "" {
			return LedgerSpec{}, fmt.Errorf("ledger.baseUrl is required in http mode")
		}
	case "stub":
	default:
		return LedgerSpec{}, fmt.Errorf("unknown ledger mode: %s", mode)
	}

	gw := ledger.DefaultGatewayConfig()
	if cfg.SubmitAttempts > 0 {
		gw.SubmitAttempts = cfg.SubmitAttempts
	}
	var err error
	if gw.ConfirmWait, err = durationOr(cfg.ConfirmWait, gw.ConfirmWait); err != nil {
		return LedgerSpec{}, fmt.Errorf("ledger.confirmWait: %w", err)
	}
	if gw.PollInterval, err = durationOr(cfg.PollInterval, gw.PollInterval); err != nil {
		return LedgerSpec{}, fmt.Errorf("ledger.pollInterval: %w", err)
	}
	backoff := retry.DefaultBackoff()
	if backoff.Min, err = durationOr(cfg.BackoffMin, backoff.Min); err != nil {
		return LedgerSpec{}, fmt.Errorf("ledger.backoffMin: %w", err)
	}
	if backoff.Max, err = durationOr(cfg.BackoffMax, backoff.Max); err != nil {
		return LedgerSpec{}, fmt.Errorf("ledger.backoffMax: %w", err)
	}
	if cfg.BackoffFactor > 1 {
		backoff.Factor = cfg.BackoffFactor
	}
	if backoff.Max < backoff.Min {
		return LedgerSpec{}, fmt.Errorf("ledger backoff max below min")
	}
	gw.Backoff = backoff

	return LedgerSpec{Mode: mode, BaseURL: cfg.BaseURL, Gateway: gw}, nil
}

func resolveReconcile(cfg ReconcileConfig) (reconcile.Config, error) {
	out := reconcile.DefaultConfig()
	var err error
	if out.Interval, err = durationOr(cfg.Interval, out.Interval); err != nil {
		return reconcile.Config{}, fmt.Errorf("reconcile.interval: %w", err)
	}
	if out.Grace, err = durationOr(cfg.Grace, out.Grace); err != nil {
		return reconcile.Config{}, fmt.Errorf("reconcile.grace: %w", err)
	}
	if out.Abandon, err = durationOr(cfg.Abandon, out.Abandon); err != nil {
		return reconcile.Config{}, fmt.Errorf("reconcile.abandon: %w", err)
	}
	if out.Abandon < out.Grace {
		return reconcile.Config{}, fmt.Errorf("reconcile.abandon below reconcile.grace")
	}
	return out, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{AutoMigrate: true}
	if cfg.AutoMigrate != nil {
		flags.AutoMigrate = *cfg.AutoMigrate
	}
	return flags
}

func durationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return d, nil
}
