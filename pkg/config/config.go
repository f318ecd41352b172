package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// SMTPConfig 出站 SMTP 配置（mail-relay 使用）
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// EventConfig 活动本身的配置：名称与起止时间
type EventConfig struct {
	Name string `yaml:"name"`
	// Epoch 活动开始时间，Eschaton 活动结束时间（RFC3339）
	Epoch    time.Time `yaml:"epoch"`
	Eschaton time.Time `yaml:"eschaton"`
	// 手动覆盖活动阶段；为 nil 时按当前时间推算
	AtTheCon *bool `yaml:"at_the_con"`
	PostCon  *bool `yaml:"post_con"`
}

// EmailConfig 自动邮件相关配置
type EmailConfig struct {
	SendEmails      bool          `yaml:"send_emails"`
	DevBox          bool          `yaml:"dev_box"`
	DeveloperEmails []string      `yaml:"developer_emails"`
	Transport       string        `yaml:"transport"` // outbox, smtp, log
	TemplateDir     string        `yaml:"template_dir"`
	CategoriesFile  string        `yaml:"categories_file"`
	Interval        time.Duration `yaml:"interval"`
	Pacing          time.Duration `yaml:"pacing"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	PendingReport   bool          `yaml:"pending_report"`
	ReportSchedule  string        `yaml:"report_schedule"`
	ApprovedIdents  []string      `yaml:"approved_idents"`

	StaffEmail       string `yaml:"staff_email"`
	RegdeskEmail     string `yaml:"regdesk_email"`
	MarketplaceEmail string `yaml:"marketplace_email"`
	GuestEmail       string `yaml:"guest_email"`
	PanelsEmail      string `yaml:"panels_email"`
	IndieEmail       string `yaml:"indie_email"`
	HotelEmail       string `yaml:"hotel_email"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideSMTPFromEnv 从环境变量覆盖SMTP配置
func OverrideSMTPFromEnv(cfg *SMTPConfig) {
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.Username = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideEmailFromEnv 从环境变量覆盖邮件开关。
// SEND_EMAILS / DEV_BOX 只接受 strconv.ParseBool 能识别的值。
func OverrideEmailFromEnv(cfg *EmailConfig) {
	if v := os.Getenv("SEND_EMAILS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SendEmails = b
		}
	}
	if v := os.Getenv("DEV_BOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevBox = b
		}
	}
	if v := os.Getenv("EMAIL_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("EMAIL_APPROVED_IDENTS"); v != "" {
		cfg.ApprovedIdents = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
