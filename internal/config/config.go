package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // container images ship without zoneinfo

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Env                    string `env:"APP_ENV" envDefault:"development"`
	Port                   string `env:"PORT" envDefault:"8080"`
	DBUser                 string `env:"DB_USER,required"`
	DBPassword             string `env:"DB_PASSWORD,required"`
	DBHost                 string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`
	AutoMigrate            bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	// Without REDIS_ADDR cursors live in process memory and score lookups are not cached.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	TimeZone   string `env:"ALARM_TIMEZONE" envDefault:"Asia/Seoul"`
	AdminToken string `env:"ADMIN_TOKEN"`

	// Exact origins ("https://app.example.com") or host suffixes (".vercel.app"). Localhost is always allowed.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:".vercel.app"`

	// Empty ScoringURL switches recommendation lookups to the recommend_scores table.
	ScoringURL      string        `env:"SCORING_URL"`
	ScoringTimeout  time.Duration `env:"SCORING_TIMEOUT" envDefault:"20s"`
	ScoringRPS      float64       `env:"SCORING_RPS" envDefault:"5"`
	ScoringCacheTTL time.Duration `env:"SCORING_CACHE_TTL" envDefault:"10m"`

	Deadline  DeadlineConfig  `envPrefix:"DEADLINE_"`
	Recommend RecommendConfig `envPrefix:"RECOMMEND_"`
	TopN      TopNConfig      `envPrefix:"TOPN_"`
}

type DeadlineConfig struct {
	Enabled         bool   `env:"ENABLED" envDefault:"true"`
	Cron            string `env:"CRON" envDefault:"0 0 10 * * *"`
	WindowDays      int    `env:"WINDOW_DAYS" envDefault:"2"`
	MaxItemsPerUser int    `env:"MAX_ITEMS_PER_USER" envDefault:"10"`
}

type RecommendConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	Cron         string        `env:"CRON" envDefault:"0 */15 * * * *"`
	Lookback     time.Duration `env:"LOOKBACK" envDefault:"1h"`
	TopK         int           `env:"TOP_K" envDefault:"50"`
	Threshold    float64       `env:"THRESHOLD" envDefault:"90"`
	DisplayLimit int           `env:"DISPLAY_LIMIT" envDefault:"10"`
}

type TopNConfig struct {
	Enabled  bool    `env:"ENABLED" envDefault:"true"`
	Cron     string  `env:"CRON" envDefault:"0 10 12 * * *"`
	N        int     `env:"N" envDefault:"5"`
	MinScore float64 `env:"MIN_SCORE" envDefault:"0"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves ALARM_TIMEZONE. Every job computes "today" in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
