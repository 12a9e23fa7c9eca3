package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
		Mode string
	}
	Database struct {
		Driver string
		DSN    string
	}
	Auth struct {
		Secret   string
		TokenTTL time.Duration `mapstructure:"token_ttl"`

		// AdminUser is created at startup when AdminPassword is set and the
		// user does not exist yet.
		AdminUser     string `mapstructure:"admin_user"`
		AdminPassword string `mapstructure:"admin_password"`
	}
	Engine struct {
		Shards          int
		QueueSize       int           `mapstructure:"queue_size"`
		RetryInterval   time.Duration `mapstructure:"retry_interval"`
		DefaultTriggers bool          `mapstructure:"default_triggers"`
	}
	Notify struct {
		MaxAttempts int `mapstructure:"max_attempts"`
		QueueSize   int `mapstructure:"queue_size"`
		Slack       struct {
			Token      string
			Channel    string
			WebhookURL string `mapstructure:"webhook_url"`
		}
		Email struct {
			SMTPHost    string `mapstructure:"smtp_host"`
			SMTPPort    int    `mapstructure:"smtp_port"`
			From        string
			Password    string
			ToReceivers []string `mapstructure:"to_receivers"`
		}
		Kafka struct {
			Brokers []string
			Topic   string
		}
	}
	RateLimit struct {
		Limit         int
		Window        time.Duration
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
	} `mapstructure:"ratelimit"`
	Log struct {
		Level string
	}
	Agent AgentConfig
}

// AgentConfig is shared by the agent binary and the server's config file.
type AgentConfig struct {
	APIURL      string `mapstructure:"api_url"`
	APIKey      string `mapstructure:"api_key"`
	HostName    string `mapstructure:"host_name"`
	HostIP      string `mapstructure:"host_ip"`
	Interval    time.Duration
	Sources     []string
	Tags        []string
	Concurrency int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/netmon.db")

	v.SetDefault("auth.secret", "change-me")
	v.SetDefault("auth.token_ttl", 30*time.Minute)
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("engine.shards", 8)
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.retry_interval", 5*time.Second)
	v.SetDefault("engine.default_triggers", false)

	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.slack.token", "")
	v.SetDefault("notify.slack.channel", "")
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.email.smtp_host", "")
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.to_receivers", []string{})
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "netmon.alerts")

	v.SetDefault("ratelimit.limit", 600)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)

	v.SetDefault("log.level", "info")

	v.SetDefault("agent.api_url", "http://localhost:8000")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.host_name", "")
	v.SetDefault("agent.host_ip", "127.0.0.1")
	v.SetDefault("agent.interval", 60*time.Second)
	v.SetDefault("agent.sources", []string{"random"})
	v.SetDefault("agent.tags", []string{"agent", "monitoring"})
	v.SetDefault("agent.concurrency", 4)
}

// LoadConfig loads the configuration from config.yaml (or the given file),
// falling back to defaults. Every key can be overridden with a NETMON_ env var,
// e.g. NETMON_DATABASE_DSN.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NETMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variables understood by the legacy agent script.
	_ = v.BindEnv("agent.api_url", "NETMON_AGENT_API_URL", "API_URL")
	_ = v.BindEnv("agent.api_key", "NETMON_AGENT_API_KEY", "API_TOKEN")
	_ = v.BindEnv("agent.host_name", "NETMON_AGENT_HOST_NAME", "HOST_NAME")
	_ = v.BindEnv("agent.host_ip", "NETMON_AGENT_HOST_IP", "HOST_IP")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netmon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Agent.HostName == "" {
		cfg.Agent.HostName, _ = os.Hostname()
	}
	if secs := os.Getenv("HEARTBEAT_INTERVAL"); secs != "" && os.Getenv("NETMON_AGENT_INTERVAL") == "" {
		if d, err := time.ParseDuration(secs + "s"); err == nil {
			cfg.Agent.Interval = d
		}
	}

	return &cfg, nil
}
