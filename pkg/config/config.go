package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Ledger LedgerConfig `mapstructure:"LEDGER"`
	Fraud  FraudConfig  `mapstructure:"FRAUD"`
	Bot    BotConfig    `mapstructure:"BOT"`
}

// LedgerConfig holds the coin policy knobs.
type LedgerConfig struct {
	SignupBonus        int64         `mapstructure:"SIGNUP_BONUS"`
	ExpiryHorizon      time.Duration `mapstructure:"EXPIRY_HORIZON"`
	ExpiryRunHour      int           `mapstructure:"EXPIRY_RUN_HOUR"`
	ExpiryRunMinute    int           `mapstructure:"EXPIRY_RUN_MINUTE"`
	PlatformSharePct   int64         `mapstructure:"PLATFORM_SHARE_PCT"`
	MaxCommitRetries   int           `mapstructure:"MAX_COMMIT_RETRIES"`
	HistoryPageDefault int           `mapstructure:"HISTORY_PAGE_DEFAULT"`
}

// FraudConfig holds the velocity-guard thresholds. All three windows share
// the same rolling duration.
type FraudConfig struct {
	Window          time.Duration `mapstructure:"WINDOW"`
	MaxTransfers    int64         `mapstructure:"MAX_TRANSFERS"`
	MaxAmount       int64         `mapstructure:"MAX_AMOUNT"`
	MaxPerRecipient int64         `mapstructure:"MAX_PER_RECIPIENT"`
}

// BotConfig holds default treasury limits applied when a bot account has no
// explicit policy row.
type BotConfig struct {
	DefaultWalletCap        int64         `mapstructure:"DEFAULT_WALLET_CAP"`
	DefaultDailyActionLimit int           `mapstructure:"DEFAULT_DAILY_ACTION_LIMIT"`
	DefaultActionCooldown   time.Duration `mapstructure:"DEFAULT_ACTION_COOLDOWN"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Ledger.SignupBonus == 0 {
		cfg.Ledger.SignupBonus = 100
	}
	if cfg.Ledger.ExpiryHorizon == 0 {
		cfg.Ledger.ExpiryHorizon = 90 * 24 * time.Hour
	}
	if cfg.Ledger.PlatformSharePct == 0 {
		cfg.Ledger.PlatformSharePct = 20
	}
	if cfg.Ledger.MaxCommitRetries == 0 {
		cfg.Ledger.MaxCommitRetries = 3
	}
	if cfg.Ledger.HistoryPageDefault == 0 {
		cfg.Ledger.HistoryPageDefault = 25
	}
	if cfg.Fraud.Window == 0 {
		cfg.Fraud.Window = time.Hour
	}
	if cfg.Fraud.MaxTransfers == 0 {
		cfg.Fraud.MaxTransfers = 20
	}
	if cfg.Fraud.MaxAmount == 0 {
		cfg.Fraud.MaxAmount = 10_000
	}
	if cfg.Fraud.MaxPerRecipient == 0 {
		cfg.Fraud.MaxPerRecipient = 5
	}
	if cfg.Bot.DefaultWalletCap == 0 {
		cfg.Bot.DefaultWalletCap = 5_000
	}
	if cfg.Bot.DefaultDailyActionLimit == 0 {
		cfg.Bot.DefaultDailyActionLimit = 50
	}
	if cfg.Bot.DefaultActionCooldown == 0 {
		cfg.Bot.DefaultActionCooldown = 30 * time.Second
	}
}
