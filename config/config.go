package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Strategy StrategyConfig `yaml:"strategy"`
	Trading  TradingConfig  `yaml:"trading"`
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// BotConfig controla el ciclo principal.
type BotConfig struct {
	TickSeconds          int    `yaml:"tick_seconds"`
	SeriesSlug           string `yaml:"series_slug"`            // ej: bitcoin-up-or-down
	IntervalMinutes      int    `yaml:"interval_minutes"`       // duración del intervalo de liquidación
	BracketWindowSeconds int    `yaml:"bracket_window_seconds"` // ventana pre-cierre para brackets
}

// StrategyConfig contiene los umbrales de las reglas de señal.
type StrategyConfig struct {
	ForcedExitSeconds  int     `yaml:"forced_exit_seconds"`   // plano dentro de esta ventana
	MinEntryLeadSecs   int     `yaml:"min_entry_lead_seconds"`
	StopLossCents      float64 `yaml:"stop_loss_cents"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	CombinedCapCents   float64 `yaml:"combined_cap_cents"`
	EntryFloorCents    float64 `yaml:"entry_floor_cents"`
	EntryCeilingCents  float64 `yaml:"entry_ceiling_cents"`
	MaxPositionShares  float64 `yaml:"max_position_shares"`
	OrderSizeShares    float64 `yaml:"order_size_shares"`
	MinConfidence      float64 `yaml:"min_confidence"`
	MaxSlippageCents   float64 `yaml:"max_slippage_cents"`    // entradas: desviación máxima sobre el mejor ask
	MinBookDepthShares float64 `yaml:"min_book_depth_shares"` // entradas: profundidad mínima del lado ask
	MidIntervalEntry   bool    `yaml:"mid_interval_entry"`
	MidIntervalLeadSec int     `yaml:"mid_interval_lead_seconds"`
	LeaderOverride     bool    `yaml:"leader_override"`
	LeaderGapMinCents  float64 `yaml:"leader_gap_min_cents"`
	LeaderGapMaxCents  float64 `yaml:"leader_gap_max_cents"`
}

// TradingConfig controla la ejecución de órdenes.
type TradingConfig struct {
	TargetNetProfitCents float64 `yaml:"target_net_profit_cents"`
	FeeRatePct           float64 `yaml:"fee_rate_pct"`
	BuyBiasCents         float64 `yaml:"buy_bias_cents"`
	FillPollAttempts     int     `yaml:"fill_poll_attempts"`
	FillPollMillis       int     `yaml:"fill_poll_millis"`
	MinOrderShares       float64 `yaml:"min_order_shares"`
	LossStreakLimit      int     `yaml:"loss_streak_limit"`
	LossCooldownMinutes  int     `yaml:"loss_cooldown_minutes"`
}

// FeedConfig controla el stream de precios y su vigilancia.
type FeedConfig struct {
	WSURL           string `yaml:"ws_url"`
	MaxPriceAgeSecs int    `yaml:"max_price_age_seconds"`
	StaleAgeSecs    int    `yaml:"stale_age_seconds"`
	BackoffBaseMs   int    `yaml:"backoff_base_ms"`
	BackoffMaxSecs  int    `yaml:"backoff_max_seconds"`
	BackoffAttempts int    `yaml:"backoff_attempts"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	RPCURL    string `yaml:"rpc_url"` // nodo Polygon para balances ERC-1155
}

// WalletConfig contiene las credenciales de firma. La private key solo
// se acepta por variable de entorno, nunca por YAML.
type WalletConfig struct {
	PrivateKey string `yaml:"-"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// TickInterval devuelve la cadencia del ciclo principal.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Bot.TickSeconds) * time.Second
}

// SettlementInterval devuelve la duración del intervalo de liquidación.
func (c *Config) SettlementInterval() time.Duration {
	return time.Duration(c.Bot.IntervalMinutes) * time.Minute
}

// BracketWindow devuelve la ventana pre-cierre para colocar brackets.
func (c *Config) BracketWindow() time.Duration {
	return time.Duration(c.Bot.BracketWindowSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Bot.TickSeconds <= 0 {
		cfg.Bot.TickSeconds = 5
	}
	if cfg.Bot.SeriesSlug == "" {
		cfg.Bot.SeriesSlug = "bitcoin-up-or-down"
	}
	if cfg.Bot.IntervalMinutes <= 0 {
		cfg.Bot.IntervalMinutes = 15
	}
	if cfg.Bot.BracketWindowSeconds <= 0 {
		cfg.Bot.BracketWindowSeconds = 120
	}

	if cfg.Strategy.ForcedExitSeconds <= 0 {
		cfg.Strategy.ForcedExitSeconds = 60
	}
	if cfg.Strategy.MinEntryLeadSecs <= 0 {
		cfg.Strategy.MinEntryLeadSecs = 90
	}
	if cfg.Strategy.StopLossCents <= 0 {
		cfg.Strategy.StopLossCents = 5
	}
	if cfg.Strategy.TakeProfitPct <= 0 {
		cfg.Strategy.TakeProfitPct = 10
	}
	if cfg.Strategy.CombinedCapCents <= 0 {
		cfg.Strategy.CombinedCapCents = 98
	}
	if cfg.Strategy.EntryFloorCents <= 0 {
		cfg.Strategy.EntryFloorCents = 20
	}
	if cfg.Strategy.EntryCeilingCents <= 0 {
		cfg.Strategy.EntryCeilingCents = 80
	}
	if cfg.Strategy.MaxPositionShares <= 0 {
		cfg.Strategy.MaxPositionShares = 100
	}
	if cfg.Strategy.OrderSizeShares <= 0 {
		cfg.Strategy.OrderSizeShares = 20
	}
	if cfg.Strategy.MinConfidence <= 0 {
		cfg.Strategy.MinConfidence = 60
	}
	if cfg.Strategy.MaxSlippageCents <= 0 {
		cfg.Strategy.MaxSlippageCents = 3
	}
	if cfg.Strategy.MinBookDepthShares <= 0 {
		cfg.Strategy.MinBookDepthShares = 50
	}
	if cfg.Strategy.LeaderGapMinCents <= 0 {
		cfg.Strategy.LeaderGapMinCents = 10
	}
	if cfg.Strategy.LeaderGapMaxCents <= 0 {
		cfg.Strategy.LeaderGapMaxCents = 40
	}

	if cfg.Trading.TargetNetProfitCents <= 0 {
		cfg.Trading.TargetNetProfitCents = 2
	}
	if cfg.Trading.FeeRatePct <= 0 {
		cfg.Trading.FeeRatePct = 1
	}
	if cfg.Trading.FillPollAttempts <= 0 {
		cfg.Trading.FillPollAttempts = 6
	}
	if cfg.Trading.FillPollMillis <= 0 {
		cfg.Trading.FillPollMillis = 2000
	}
	if cfg.Trading.MinOrderShares <= 0 {
		cfg.Trading.MinOrderShares = 5
	}
	if cfg.Trading.LossStreakLimit <= 0 {
		cfg.Trading.LossStreakLimit = 3
	}
	if cfg.Trading.LossCooldownMinutes <= 0 {
		cfg.Trading.LossCooldownMinutes = 30
	}

	if cfg.Feed.MaxPriceAgeSecs <= 0 {
		cfg.Feed.MaxPriceAgeSecs = 10
	}
	if cfg.Feed.StaleAgeSecs <= 0 {
		cfg.Feed.StaleAgeSecs = 30
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.RPCURL == "" {
		cfg.API.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "updown.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza combinaciones incoherentes que los defaults no arreglan.
func validate(cfg *Config) error {
	if cfg.Strategy.EntryFloorCents >= cfg.Strategy.EntryCeilingCents {
		return fmt.Errorf("entry floor %.1f >= ceiling %.1f",
			cfg.Strategy.EntryFloorCents, cfg.Strategy.EntryCeilingCents)
	}
	if cfg.Strategy.LeaderGapMinCents >= cfg.Strategy.LeaderGapMaxCents {
		return fmt.Errorf("leader gap min %.1f >= max %.1f",
			cfg.Strategy.LeaderGapMinCents, cfg.Strategy.LeaderGapMaxCents)
	}
	if cfg.Strategy.OrderSizeShares > cfg.Strategy.MaxPositionShares {
		return fmt.Errorf("order size %.1f exceeds position cap %.1f",
			cfg.Strategy.OrderSizeShares, cfg.Strategy.MaxPositionShares)
	}
	return nil
}
