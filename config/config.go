package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Trader   TraderConfig             `yaml:"trader"`
	Accounts map[string]AccountConfig `yaml:"accounts"`
	Keys     map[string]KeyConfig     `yaml:"keys"` // cuentas que solo firman, p.ej. el rc_from
	Bids     []domain.Bid             `yaml:"bids"`
	API      APIConfig                `yaml:"api"`
	Ledger   LedgerConfig             `yaml:"ledger"`
	Storage  StorageConfig            `yaml:"storage"`
	Metrics  MetricsConfig            `yaml:"metrics"`
	Log      LogConfig                `yaml:"log"`
}

// TraderConfig controla compras, reventa y el ciclo periódico.
// Los campos en cero usan el default de cada componente.
type TraderConfig struct {
	MinProfitUSD     float64       `yaml:"min_profit_usd"`
	ProfitFeePct     float64       `yaml:"profit_fee_pct"`
	FeeAccount       string        `yaml:"fee_account"`
	MinDECPrice      float64       `yaml:"min_dec_price"`
	AppName          string        `yaml:"app_name"`
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	PageSize         int           `yaml:"page_size"`
	LookupsPerMinute int           `yaml:"lookups_per_minute"`

	MaxBroadcasts  int           `yaml:"max_broadcasts"`
	BroadcastDelay time.Duration `yaml:"broadcast_delay"`
	ConfirmWindow  time.Duration `yaml:"confirm_window"`
	ConfirmBlocks  int64         `yaml:"confirm_blocks"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	PollAttempts   int           `yaml:"poll_attempts"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// AccountConfig es una cuenta compradora.
type AccountConfig struct {
	Currency       string  `yaml:"currency"` // DEC | CREDITS
	MinimumBalance float64 `yaml:"minimum_balance"`
	RCFrom         string  `yaml:"rc_from"`
	RCAmountB      float64 `yaml:"rc_amount_b"`
	ActiveKey      string  `yaml:"active_key"`
	PostingKey     string  `yaml:"posting_key"`
}

// KeyConfig son las claves WIF de una cuenta.
type KeyConfig struct {
	ActiveKey  string `yaml:"active_key"`
	PostingKey string `yaml:"posting_key"`
}

// APIConfig contiene los base URLs del marketplace.
type APIConfig struct {
	APIBase     string        `yaml:"api_base"`
	HistoryBase string        `yaml:"history_base"`
	BidsBase    string        `yaml:"bids_base"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LedgerConfig son los nodos de Hive.
type LedgerConfig struct {
	Nodes     []string `yaml:"nodes"`
	ChainID   string   `yaml:"chain_id"`
	StartFrom int64    `yaml:"start_from"` // 0 = bloque head
}

// StorageConfig controla dónde se persisten los trades.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // sqlite | mongo
	DSN      string `yaml:"dsn"`    // ruta al archivo SQLite, o ":memory:"
	MongoURL string `yaml:"mongo_url"`
	MongoDB  string `yaml:"mongo_db"`
}

// MetricsConfig controla el endpoint de Prometheus. Addr vacío lo apaga.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Overrides son las variables de entorno que pisan al YAML.
type Overrides struct {
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
	StorageDriver string `env:"STORAGE_DRIVER"`
	StorageDSN    string `env:"STORAGE_DSN"`
	MongoURL      string `env:"MONGO_URL"`
	HiveNode      string `env:"HIVE_NODE"`
	MetricsAddr   string `env:"METRICS_ADDR"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las claves pueden escribirse como ${VAR} y se expanden desde el entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse es Load sin leer archivos.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("config.Load: env.Parse: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.StorageDSN != "" {
		cfg.Storage.DSN = o.StorageDSN
	}
	if o.MongoURL != "" {
		cfg.Storage.MongoURL = o.MongoURL
	}
	if o.HiveNode != "" {
		cfg.Ledger.Nodes = []string{o.HiveNode}
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Trader.MinProfitUSD <= 0 {
		cfg.Trader.MinProfitUSD = 0.01
	}
	if cfg.Trader.CycleInterval <= 0 {
		cfg.Trader.CycleInterval = 5 * time.Minute
	}
	for name, acc := range cfg.Accounts {
		acc.Currency = strings.ToUpper(acc.Currency)
		if acc.Currency == "" {
			acc.Currency = domain.CurrencyDEC
		}
		cfg.Accounts[name] = acc
	}
	if len(cfg.Ledger.Nodes) == 0 {
		cfg.Ledger.Nodes = []string{"https://api.hive.blog", "https://api.deathwing.me"}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "cardbot.db"
	}
	if cfg.Storage.MongoDB == "" {
		cfg.Storage.MongoDB = "cardbot"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate revisa lo que no tiene default posible.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("no accounts configured"))
	}
	for _, name := range c.AccountNames() {
		acc := c.Accounts[name]
		if acc.ActiveKey == "" {
			errs = append(errs, fmt.Errorf("account %q: missing active_key", name))
		}
		if acc.Currency != domain.CurrencyDEC && acc.Currency != domain.CurrencyCredits {
			errs = append(errs, fmt.Errorf("account %q: unknown currency %q", name, acc.Currency))
		}
		if acc.RCFrom != "" {
			if acc.RCAmountB <= 0 {
				errs = append(errs, fmt.Errorf("account %q: rc_from without rc_amount_b", name))
			}
			if _, ok := c.Signers()[acc.RCFrom]; !ok {
				errs = append(errs, fmt.Errorf("account %q: no keys for rc_from %q", name, acc.RCFrom))
			}
		}
	}
	if len(c.Bids) == 0 {
		errs = append(errs, errors.New("no bids configured"))
	}
	if c.Trader.ProfitFeePct < 0 || c.Trader.ProfitFeePct > 100 {
		errs = append(errs, fmt.Errorf("profit_fee_pct %.2f out of range", c.Trader.ProfitFeePct))
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "mongo":
		if c.Storage.MongoURL == "" {
			errs = append(errs, errors.New("storage: mongo driver without mongo_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// AccountNames devuelve las cuentas compradoras ordenadas.
func (c *Config) AccountNames() []string {
	names := lo.Keys(c.Accounts)
	sort.Strings(names)
	return names
}

// Signers junta las claves de las cuentas compradoras y de las de solo firma.
// Si una cuenta aparece en ambos lados gana la de accounts.
func (c *Config) Signers() map[string]KeyConfig {
	out := make(map[string]KeyConfig, len(c.Keys)+len(c.Accounts))
	for name, k := range c.Keys {
		out[name] = k
	}
	for name, acc := range c.Accounts {
		out[name] = KeyConfig{ActiveKey: acc.ActiveKey, PostingKey: acc.PostingKey}
	}
	return out
}
