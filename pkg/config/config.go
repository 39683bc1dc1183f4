package config

import (
	"log"
	"os"
	"time"

	"silvercare/pkg/cache"
	"silvercare/pkg/logger"
	"silvercare/pkg/sms"
	"silvercare/pkg/util"
)

type Config struct {
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`
	Addr     string `env:"ADDR"`
	Mode     string `env:"MODE"`

	Log   logger.LogConfig
	Cache cache.Config
	SMS   sms.Config

	// AgentAPIKey authenticates the upstream call-agent that creates
	// alerts; it is distinct from end-user auth.
	AgentAPIKey string `env:"AGENT_API_KEY"`

	// WarningSMS decides whether WARNING-severity alerts require SMS;
	// CRITICAL always does.
	WarningSMS bool `env:"ALERT_WARNING_SMS"`

	// RegionPrefixLen is how many leading region-code digits an admin's
	// jurisdiction must share with the subject's region. 0 means the
	// codes must match exactly.
	RegionPrefixLen int `env:"ALERT_REGION_PREFIX_LEN"`

	// DedupWindow suppresses repeated SMS sends for the same
	// (phone, type, reference) key.
	DedupWindow time.Duration `env:"SMS_DEDUP_WINDOW"`

	// ResendCron schedules the failed-SMS resend sweep.
	ResendCron string `env:"SMS_RESEND_CRON"`

	// DeepLinkBase prefixes the short links embedded in alert SMS.
	DeepLinkBase string `env:"DEEP_LINK_BASE"`

	PushIdleTimeout       time.Duration `env:"PUSH_IDLE_TIMEOUT"`
	PushHeartbeatInterval time.Duration `env:"PUSH_HEARTBEAT_INTERVAL"`
}

var GlobalConfig *Config

func Load() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	GlobalConfig = &Config{
		DBDriver: util.GetEnv("DB_DRIVER"),
		DSN:      util.GetEnv("DSN"),
		Addr:     util.GetEnvDefault("ADDR", ":8080"),
		Mode:     util.GetEnv("MODE"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnv("CACHE_TYPE"),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnv("REDIS_POOL_SIZE")),
				DialTimeout:  util.GetDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  util.GetDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: util.GetDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		SMS: sms.Config{
			Endpoint: util.GetEnv("SMS_ENDPOINT"),
			APIKey:   util.GetEnv("SMS_API_KEY"),
			Sender:   util.GetEnv("SMS_SENDER"),
			Timeout:  util.GetDurationEnv("SMS_TIMEOUT", 10*time.Second),
		},
		AgentAPIKey:           util.GetEnv("AGENT_API_KEY"),
		WarningSMS:            util.GetBoolEnv("ALERT_WARNING_SMS"),
		RegionPrefixLen:       regionPrefixLen(),
		DedupWindow:           util.GetDurationEnv("SMS_DEDUP_WINDOW", 5*time.Minute),
		ResendCron:            util.GetEnvDefault("SMS_RESEND_CRON", "*/10 * * * *"),
		DeepLinkBase:          util.GetEnvDefault("DEEP_LINK_BASE", "https://app.silvercare.kr"),
		PushIdleTimeout:       util.GetDurationEnv("PUSH_IDLE_TIMEOUT", 30*time.Minute),
		PushHeartbeatInterval: util.GetDurationEnv("PUSH_HEARTBEAT_INTERVAL", 30*time.Second),
	}
	return nil
}

func regionPrefixLen() int {
	if util.GetEnv("ALERT_REGION_PREFIX_LEN") == "" {
		// province + city digits in the administrative code scheme
		return 5
	}
	return int(util.GetIntEnv("ALERT_REGION_PREFIX_LEN"))
}
