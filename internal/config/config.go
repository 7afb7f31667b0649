package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "TANDEM"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "tandem.db"
	defaultLogLevel     = "info"
	defaultRedisChannel = "tandem:events"
	defaultTokenIssuer  = "tandem-auth"
	defaultAudience     = "tandem-api"
	defaultTokenTTL     = 30 * time.Minute
	defaultRewardAmount = 30
)

// defaultContentTypes seed the catalog and amount table when no explicit
// configuration overrides them.
var defaultContentTypes = []string{"classic_quiz", "affirmation_quiz"}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	RedisAddress  string
	RedisChannel  string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	// DayOffsetHours shifts the reward-day boundary from midnight UTC;
	// may be negative.
	DayOffsetHours int
	// UnlimitedContentMode allows replaying content after today's grant.
	UnlimitedContentMode bool
	ContentTypes         []string
	// RewardAmounts maps content types to their flat grant amount.
	RewardAmounts map[string]int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("reward.day_offset_hours", 0)
	configViper.SetDefault("reward.unlimited_content_mode", true)
	configViper.SetDefault("content.types", defaultContentTypes)
	for _, contentType := range defaultContentTypes {
		configViper.SetDefault("reward.amounts."+contentType, defaultRewardAmount)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	contentTypes := configViper.GetStringSlice("content.types")
	amounts := make(map[string]int64, len(contentTypes))
	for _, contentType := range contentTypes {
		amount := configViper.GetInt64("reward.amounts." + contentType)
		if amount <= 0 {
			amount = defaultRewardAmount
		}
		amounts[contentType] = amount
	}

	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		RedisAddress:         configViper.GetString("redis.addr"),
		RedisChannel:         configViper.GetString("redis.channel"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenIssuer:          configViper.GetString("auth.issuer"),
		TokenAudience:        configViper.GetString("auth.audience"),
		TokenTTL:             configViper.GetDuration("auth.token_ttl"),
		DayOffsetHours:       configViper.GetInt("reward.day_offset_hours"),
		UnlimitedContentMode: configViper.GetBool("reward.unlimited_content_mode"),
		ContentTypes:         contentTypes,
		RewardAmounts:        amounts,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.ContentTypes) == 0 {
		return fmt.Errorf("content.types must name at least one content type")
	}
	if strings.TrimSpace(c.RedisAddress) != "" && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("redis.channel is required when redis.addr is set")
	}
	return nil
}
