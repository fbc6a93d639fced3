package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"TeeRelay/pkg/util"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Logging     struct {
		Level          string        `yaml:"level"`
		Format         string        `yaml:"format"`
		Output         string        `yaml:"output"`
		ErrorTopic     string        `yaml:"error_topic"`
		FlushInterval  time.Duration `yaml:"flush_interval"`
		CountThreshold int           `yaml:"count_threshold"`
	} `yaml:"logging"`
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Enclave struct {
		BaseURL   string        `yaml:"base_url"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"`
		Burst     int           `yaml:"burst"`
	} `yaml:"enclave"`
	Quote struct {
		ValidityWindow time.Duration `yaml:"validity_window"`
		ClockSkew      time.Duration `yaml:"clock_skew"`
		SpentBackend   string        `yaml:"spent_backend"` // memory | redis
		SpentCapacity  int           `yaml:"spent_capacity"`
	} `yaml:"quote"`
	Attestation struct {
		InitialPCRs struct {
			PCR0 string `yaml:"pcr0"`
			PCR1 string `yaml:"pcr1"`
			PCR2 string `yaml:"pcr2"`
		} `yaml:"initial_pcrs"`
		// TrustedEnclaveKeys are hex ed25519 keys bound to the initial record without a
		// registration document.
		TrustedEnclaveKeys []string     `yaml:"trusted_enclave_keys"`
		NitroRootPEM       string       `yaml:"nitro_root_pem"`
		GovernanceKey      string       `yaml:"governance_public_key"`
		AnchorEnabled      bool         `yaml:"anchor_enabled"`
		EnclavePackage     string       `yaml:"enclave_package"`
		EnclaveConfig      SharedObject `yaml:"enclave_config"`
		EnclaveCap         string       `yaml:"enclave_cap"`
	} `yaml:"attestation"`
	Chain struct {
		RPCURL          string        `yaml:"rpc_url"`
		Timeout         time.Duration `yaml:"timeout"`
		FinalityTimeout time.Duration `yaml:"finality_timeout"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		PackageID       string        `yaml:"package_id"`
		Packages        struct {
			PM    string `yaml:"pm"`
			Vault string `yaml:"vault"`
			World string `yaml:"world"`
		} `yaml:"packages"`
		CoinType    string `yaml:"coin_type"`
		GasPrice    uint64 `yaml:"gas_price"`
		GasBudget   uint64 `yaml:"gas_budget"`
		WitnessType string `yaml:"witness_type"`
		Objects     struct {
			Enclave     SharedObject `yaml:"enclave"`
			Vault       SharedObject `yaml:"vault"`
			VaultLedger SharedObject `yaml:"vault_ledger"`
			World       SharedObject `yaml:"world"`
		} `yaml:"objects"`
	} `yaml:"chain"`
	Sponsor struct {
		Mode          string        `yaml:"mode"` // gas_station | local
		URL           string        `yaml:"url"`
		Address       string        `yaml:"address"`
		Timeout       time.Duration `yaml:"timeout"`
		BudgetPerHour int64         `yaml:"budget_per_hour"`
		GasLockTTL    time.Duration `yaml:"gas_lock_ttl"`
	} `yaml:"sponsor"`
	Limits struct {
		BuildsPerSecond float64 `yaml:"builds_per_second"`
		BuildBurst      int     `yaml:"build_burst"`
	} `yaml:"limits"`
	Submission struct {
		ResultTTL    time.Duration `yaml:"result_ttl"`
		Timeout      time.Duration `yaml:"timeout"`
		ConfirmQueue string        `yaml:"confirm_queue"`
		Workers      int           `yaml:"workers"`
		RetryLimit   int           `yaml:"retry_limit"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
	} `yaml:"submission"`
	Events struct {
		Enabled      bool          `yaml:"enabled"`
		BufferSize   int           `yaml:"buffer_size"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"events"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		Prefix      string        `yaml:"prefix"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`

	Secrets Secrets `yaml:"-"`
}

// SharedObject is an on-chain shared object the relay passes by id.
type SharedObject struct {
	ID             string `yaml:"id"`
	InitialVersion uint64 `yaml:"initial_version"`
}

// Secrets come only from the environment, never from YAML.
type Secrets struct {
	SponsorAccessKey  string `env:"SPONSOR_ACCESS_KEY"`
	SponsorPrivateKey string `env:"SPONSOR_PRIVATE_KEY"`
	AnchorPrivateKey  string `env:"ANCHOR_PRIVATE_KEY"`
	GovernanceKey     string `env:"GOVERNANCE_PRIVATE_KEY"`
}

// LoadSecrets decodes Secrets from the environment. No secret being set is not an error.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Secrets{}, fmt.Errorf("decode secrets: %w", err)
	}
	return s, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// LoadWithEnv loads the YAML file, overlays environment overrides and secrets, and validates.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"RELAY_ENV":           &c.Environment,
		"LOG_LEVEL":           &c.Logging.Level,
		"ENCLAVE_URL":         &c.Enclave.BaseURL,
		"SUI_RPC_URL":         &c.Chain.RPCURL,
		"SPONSOR_URL":         &c.Sponsor.URL,
		"SPONSOR_ADDRESS":     &c.Sponsor.Address,
		"SPONSOR_MODE":        &c.Sponsor.Mode,
		"REDIS_ADDR":          &c.Redis.Addr,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"KAFKA_TOPIC":         &c.Kafka.Topic,
		"CLICKHOUSE_HOST":     &c.ClickHouse.Host,
		"CLICKHOUSE_USER":     &c.ClickHouse.User,
		"CLICKHOUSE_PASSWORD": &c.ClickHouse.Password,
		"NITRO_ROOT_PEM":      &c.Attestation.NitroRootPEM,
	}
	for env, dst := range overrides {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	c.Server.Port = util.ParseIntDefault(os.Getenv("RELAY_PORT"), c.Server.Port)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = util.SplitCSV(v)
	}

	if c.Secrets, err = LoadSecrets(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Quote.ValidityWindow == 0 {
		c.Quote.ValidityWindow = 5 * time.Minute
	}
	if c.Quote.ClockSkew == 0 {
		c.Quote.ClockSkew = 30 * time.Second
	}
	if c.Quote.SpentBackend == "" {
		c.Quote.SpentBackend = "memory"
	}
	if c.Quote.SpentCapacity == 0 {
		c.Quote.SpentCapacity = 100_000
	}
	if c.Sponsor.Mode == "" {
		c.Sponsor.Mode = "gas_station"
	}
	if c.Sponsor.GasLockTTL == 0 {
		c.Sponsor.GasLockTTL = time.Minute
	}
	if c.Chain.CoinType == "" {
		c.Chain.CoinType = "0x2::sui::SUI"
	}
	for _, pkg := range []*string{&c.Chain.Packages.PM, &c.Chain.Packages.Vault, &c.Chain.Packages.World} {
		if *pkg == "" {
			*pkg = c.Chain.PackageID
		}
	}
	if c.Chain.GasBudget == 0 {
		c.Chain.GasBudget = 50_000_000
	}
	if c.Chain.GasPrice == 0 {
		c.Chain.GasPrice = 1000
	}
	if c.Submission.ResultTTL == 0 {
		c.Submission.ResultTTL = 24 * time.Hour
	}
	if c.Submission.ConfirmQueue == "" {
		c.Submission.ConfirmQueue = "relay:confirmations"
	}
	if c.Submission.Timeout == 0 {
		c.Submission.Timeout = c.Chain.Timeout + c.Chain.FinalityTimeout
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Enclave.BaseURL == "" {
		return fmt.Errorf("enclave.base_url is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.PackageID == "" {
		return fmt.Errorf("chain.package_id is required")
	}
	if c.Sponsor.Address == "" {
		return fmt.Errorf("sponsor.address is required")
	}
	switch c.Sponsor.Mode {
	case "gas_station":
		if c.Sponsor.URL == "" {
			return fmt.Errorf("sponsor.url is required in gas_station mode")
		}
		if c.Secrets.SponsorAccessKey == "" {
			return fmt.Errorf("SPONSOR_ACCESS_KEY must be set in gas_station mode")
		}
	case "local":
		if c.Secrets.SponsorPrivateKey == "" {
			return fmt.Errorf("SPONSOR_PRIVATE_KEY must be set in local mode")
		}
	default:
		return fmt.Errorf("sponsor.mode must be 'gas_station' or 'local', got '%s'", c.Sponsor.Mode)
	}
	if c.Quote.SpentBackend != "memory" && c.Quote.SpentBackend != "redis" {
		return fmt.Errorf("quote.spent_backend must be 'memory' or 'redis', got '%s'", c.Quote.SpentBackend)
	}
	if c.Quote.SpentBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("quote.spent_backend=redis requires redis.enabled")
	}
	if c.Attestation.AnchorEnabled && c.Secrets.AnchorPrivateKey == "" {
		return fmt.Errorf("ANCHOR_PRIVATE_KEY must be set when attestation.anchor_enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka.enabled")
	}
	return nil
}
