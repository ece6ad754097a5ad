package indengine

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"stochroc/internal/indicator"
)

// DefaultIndicatorSpecs is used when INDICATOR_CONFIGS is empty.
const DefaultIndicatorSpecs = "MIN:14,MAX:14,FAST_STOCH:14,ROC:9"

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/indengine.db"`

	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"indengine"`
	ConsumerName  string `envconfig:"CONSUMER_NAME" default:"worker-1"`

	EnabledTFs      []int    `envconfig:"ENABLED_TFS" default:"60,120,180,300"`
	SubscribeTokens []string `envconfig:"SUBSCRIBE_TOKENS"` // "exchange:token" or "exchangeType:token"
	IndicatorSpecs  string   `envconfig:"INDICATOR_CONFIGS" default:"MIN:14,MAX:14,FAST_STOCH:14,ROC:9"`
	ConfigChannel   string   `envconfig:"CONFIG_CHANNEL" default:"config:indicators"`

	SnapshotKey      string        `envconfig:"SNAPSHOT_KEY" default:"ind:snapshot:engine"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"30s"`
	PELInterval      time.Duration `envconfig:"PEL_RECLAIM_INTERVAL" default:"30s"`
	PELMinIdle       time.Duration `envconfig:"PEL_MIN_IDLE" default:"60s"`

	HTTPAddr string `envconfig:"INDENGINE_HTTP_ADDR" default:":9095"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	IndicatorConfigs []indicator.TFIndicatorConfig `ignored:"true"`
}

// LoadConfig reads .env (if present) and the environment, then derives the
// per-TF indicator configs.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "env config")
	}

	specs, err := ParseIndicatorSpecs(cfg.IndicatorSpecs)
	if err != nil {
		return cfg, err
	}
	cfg.IndicatorConfigs = BuildIndicatorConfigs(cfg.EnabledTFs, specs)
	if err := indicator.ValidateConfigs(cfg.IndicatorConfigs); err != nil {
		return cfg, errors.Wrap(err, "indicator config")
	}
	cfg.SubscribeTokens = normalizeTokenKeys(cfg.SubscribeTokens)

	if cfg.SnapshotInterval <= 0 || cfg.PELInterval <= 0 {
		return cfg, errors.New("SNAPSHOT_INTERVAL and PEL_RECLAIM_INTERVAL must be positive")
	}
	return cfg, nil
}

// BuildIndicatorConfigs applies the same indicator set to every timeframe.
func BuildIndicatorConfigs(tfs []int, specs []indicator.IndicatorConfig) []indicator.TFIndicatorConfig {
	configs := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = indicator.TFIndicatorConfig{
			TF:         tf,
			Indicators: specs,
		}
	}
	return configs
}

// ParseIndicatorSpecs parses "TYPE:LENGTH,TYPE:LENGTH,..." such as
// "FAST_STOCH:14,ROC:9". Types are upper-cased. An empty string yields the
// defaults. Every malformed entry is reported.
func ParseIndicatorSpecs(s string) ([]indicator.IndicatorConfig, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultIndicatorSpecs
	}

	var (
		configs []indicator.IndicatorConfig
		errs    error
	)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, lenStr, ok := strings.Cut(part, ":")
		if !ok {
			errs = multierr.Append(errs, errors.Errorf("indicator spec %q: want TYPE:LENGTH", part))
			continue
		}
		length, err := strconv.ParseUint(strings.TrimSpace(lenStr), 10, 32)
		if err != nil || length == 0 {
			errs = multierr.Append(errs, errors.Errorf("indicator spec %q: length must be a positive integer", part))
			continue
		}
		configs = append(configs, indicator.IndicatorConfig{
			Type:   strings.ToUpper(strings.TrimSpace(typ)),
			Length: uint32(length),
		})
	}
	if errs != nil {
		return nil, errs
	}
	if len(configs) == 0 {
		return nil, errors.New("no indicators configured")
	}
	return configs, nil
}

// normalizeTokenKeys maps "exchangeType:token" (Angel One numbering) to
// "exchange:token"; keys that already name an exchange pass through.
func normalizeTokenKeys(in []string) []string {
	out := make([]string, 0, len(in))
	for _, pair := range in {
		pair = strings.TrimSpace(pair)
		ex, tok, ok := strings.Cut(pair, ":")
		if !ok || tok == "" {
			continue
		}
		switch ex {
		case "1":
			ex = "NSE"
		case "2":
			ex = "NFO"
		case "3":
			ex = "BSE"
		}
		out = append(out, ex+":"+tok)
	}
	return out
}
