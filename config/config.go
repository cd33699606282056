package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration of a messaging node.
// Values are resolved in order: defaults < config file < IM_* environment.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	KV       KVConfig       `mapstructure:"kv"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Router   RouterConfig   `mapstructure:"router"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServiceConfig struct {
	// NodeID identifies this node in session records and broker queue names.
	// Empty means a random suffix is generated at startup.
	NodeID string `mapstructure:"node_id"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Path to the sqlite database file, or ":memory:".
	Path string `mapstructure:"path"`
}

type KVConfig struct {
	// RedisAddr empty selects the in-process store (single-node mode).
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type BrokerConfig struct {
	// AMQPURL empty selects the in-process gochannel transport.
	AMQPURL string `mapstructure:"amqp_url"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type GatewayConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MailboxSize       int           `mapstructure:"mailbox_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	TypingTTL         time.Duration `mapstructure:"typing_ttl"`
}

type RouterConfig struct {
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`
	DedupSize        int           `mapstructure:"dedup_size"`
	MaxContentLength int           `mapstructure:"max_content_length"`
}

type OutboxConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	Grace        time.Duration `mapstructure:"grace"`
	ScanBatch    int           `mapstructure:"scan_batch"`
}

type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// LevelVar is the process-wide log level, swapped live on config reload.
var LevelVar = new(slog.LevelVar)

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.node_id", "")
	v.SetDefault("server.listen", ":8085")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.path", "im-messaging.db")
	v.SetDefault("kv.redis_addr", "")
	v.SetDefault("kv.redis_db", 0)
	v.SetDefault("broker.amqp_url", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "webitel")
	v.SetDefault("gateway.heartbeat_interval", 25*time.Second)
	v.SetDefault("gateway.sweep_interval", 30*time.Second)
	v.SetDefault("gateway.mailbox_size", 2048)
	v.SetDefault("gateway.write_timeout", 10*time.Second)
	v.SetDefault("gateway.typing_ttl", 5*time.Second)
	v.SetDefault("router.dedup_ttl", 5*time.Minute)
	v.SetDefault("router.dedup_size", 65536)
	v.SetDefault("router.max_content_length", 16384)
	v.SetDefault("outbox.scan_interval", 30*time.Second)
	v.SetDefault("outbox.grace", time.Minute)
	v.SetDefault("outbox.scan_batch", 200)
	v.SetDefault("webhook.timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Flags returns the pflag set recognized by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("im-messaging", pflag.ContinueOnError)
	fs.String("config_file", "", "path to the configuration file")
	fs.String("log.level", "", "log level (debug|info|warn|error)")
	fs.String("server.listen", "", "HTTP/WS listen address")
	return fs
}

// LoadConfig reads the configuration and starts watching the file (if any)
// so the log level can be adjusted without a restart.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("im")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Command-line overrides beat both the file and the environment. Unknown
	// flags belong to the CLI layer, not to us.
	fs := Flags()
	fs.ParseErrorsWhitelist.UnknownFlags = true
	_ = fs.Parse(os.Args[1:])
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyLogLevel(cfg.Log.Level)

	if configFile != "" {
		v.OnConfigChange(func(_ fsnotify.Event) {
			applyLogLevel(v.GetString("log.level"))
		})
		v.WatchConfig()
	}

	return cfg, nil
}

func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		LevelVar.Set(slog.LevelDebug)
	case "warn":
		LevelVar.Set(slog.LevelWarn)
	case "error":
		LevelVar.Set(slog.LevelError)
	default:
		LevelVar.Set(slog.LevelInfo)
	}
}
