package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"ubersystem/internal/automail"
	"ubersystem/internal/automail/catalog"
	"ubersystem/pkg/circuitbreaker"
	"ubersystem/pkg/config"
)

// DaemonConfig email-daemon 的配置
type DaemonConfig struct {
	DB             config.DBConfig          `yaml:"db"`
	MQ             config.MQConfig          `yaml:"mq"`
	Redis          config.RedisConfig       `yaml:"redis"`
	JWT            config.JWTConfig         `yaml:"jwt"`
	Server         config.ServerConfig      `yaml:"server"`
	SMTP           config.SMTPConfig        `yaml:"smtp"`
	Otel           config.OtelConfig        `yaml:"otel"`
	Email          config.EmailConfig       `yaml:"email"`
	Event          config.EventConfig       `yaml:"event"`
	Dates          catalog.Dates            `yaml:"dates"`
	Checklist      []automail.ChecklistConf `yaml:"checklist"`
	CircuitBreaker circuitbreaker.Config    `yaml:"circuit_breaker"`
	Outbox         OutboxConfig             `yaml:"outbox"`
}

// OutboxConfig outbox dispatcher 参数
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// RelayConfig mail-relay 的配置
type RelayConfig struct {
	MQ             config.MQConfig       `yaml:"mq"`
	Redis          config.RedisConfig    `yaml:"redis"`
	SMTP           config.SMTPConfig     `yaml:"smtp"`
	Otel           config.OtelConfig     `yaml:"otel"`
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	Relay          struct {
		Port       string        `yaml:"port"`
		Prefetch   int           `yaml:"prefetch"`
		MaxRetries int64         `yaml:"max_retries"`
		DedupeTTL  time.Duration `yaml:"dedupe_ttl"`
		RetryTTL   time.Duration `yaml:"retry_ttl"`
	} `yaml:"relay"`
}

// Senders 把 email 段的发件地址转换成分类构造器使用的结构
func (c *DaemonConfig) Senders() automail.Senders {
	return automail.Senders{
		Staff:       c.Email.StaffEmail,
		Regdesk:     c.Email.RegdeskEmail,
		Marketplace: c.Email.MarketplaceEmail,
		Guest:       c.Email.GuestEmail,
		Panels:      c.Email.PanelsEmail,
		Indie:       c.Email.IndieEmail,
		Hotel:       c.Email.HotelEmail,
	}
}

// Builder 分类构造器
func (c *DaemonConfig) Builder() automail.Builder {
	return automail.Builder{
		Event:   automail.EventInfo{Name: c.Event.Name, Epoch: c.Event.Epoch},
		Senders: c.Senders(),
	}
}

// Clock 活动阶段
func (c *DaemonConfig) Clock() automail.EventClock {
	return automail.EventClock{
		Epoch:    c.Event.Epoch,
		Eschaton: c.Event.Eschaton,
		AtTheCon: c.Event.AtTheCon,
		PostCon:  c.Event.PostCon,
	}
}

func load(out interface{}) {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Decode(cfgMap, out); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
}

// Load 加载 email-daemon 配置，环境变量优先级最高
func Load() *DaemonConfig {
	cfg := DaemonConfig{CircuitBreaker: circuitbreaker.DefaultConfig()}
	load(&cfg)

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideEmailFromEnv(&cfg.Email)
	overrideOtelFromEnv(&cfg.Otel)

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8086"
	}
	if cfg.Email.Transport == "" {
		cfg.Email.Transport = "outbox"
	}
	return &cfg
}

// LoadRelay 加载 mail-relay 配置
func LoadRelay() *RelayConfig {
	cfg := RelayConfig{CircuitBreaker: circuitbreaker.DefaultConfig()}
	load(&cfg)

	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	overrideOtelFromEnv(&cfg.Otel)
	if port := os.Getenv("RELAY_PORT"); port != "" {
		cfg.Relay.Port = port
	}

	if cfg.Relay.Port == "" {
		cfg.Relay.Port = "8087"
	}
	if cfg.Relay.Prefetch <= 0 {
		cfg.Relay.Prefetch = 10
	}
	if cfg.Relay.DedupeTTL <= 0 {
		cfg.Relay.DedupeTTL = 24 * time.Hour
	}
	if cfg.Relay.RetryTTL <= 0 {
		cfg.Relay.RetryTTL = time.Hour
	}
	return &cfg
}

func overrideOtelFromEnv(cfg *config.OtelConfig) {
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
}
