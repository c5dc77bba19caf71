package main

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/iceisfun/mysmtp"
)

// config is the daemon configuration. The port comes from the command line,
// everything else from MYSMTP_* environment variables.
type config struct {
	Port            int
	MailboxDir      string
	Hostname        string
	MaxMessageSize  int64
	IdleTimeout     time.Duration
	MaxConnections  int
	IndexCacheSize  int64
	LogLevel        mysmtp.LogLevel
	LogFormat       string
	Transcript      string
	MQURL           string
	MQQueue         string
	ShutdownTimeout time.Duration
}

const (
	defaultMailboxDir      = "mailbox"
	defaultIndexCacheSize  = 16 << 20
	defaultShutdownTimeout = 10 * time.Second
)

func loadConfig(port string, getenv func(string) string) (config, error) {
	cfg := config{
		MailboxDir:      defaultMailboxDir,
		MaxMessageSize:  mysmtp.DefaultMaxMessageSize,
		IndexCacheSize:  defaultIndexCacheSize,
		LogLevel:        mysmtp.LogLevelInfo,
		LogFormat:       "text",
		MQQueue:         "deliveries",
		ShutdownTimeout: defaultShutdownTimeout,
	}

	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return cfg, errors.Errorf("invalid port %q", port)
	}
	cfg.Port = p

	if v := getenv("MYSMTP_MAILBOX_DIR"); v != "" {
		cfg.MailboxDir = v
	}
	cfg.Hostname = getenv("MYSMTP_HOSTNAME")
	cfg.Transcript = getenv("MYSMTP_TRANSCRIPT")
	cfg.MQURL = getenv("MYSMTP_MQ_URL")
	if v := getenv("MYSMTP_MQ_QUEUE"); v != "" {
		cfg.MQQueue = v
	}

	if v := getenv("MYSMTP_LOG_LEVEL"); v != "" {
		level, ok := mysmtp.ParseLogLevel(v)
		if !ok {
			return cfg, errors.Errorf("MYSMTP_LOG_LEVEL: unknown level %q", v)
		}
		cfg.LogLevel = level
	}
	if v := getenv("MYSMTP_LOG_FORMAT"); v != "" {
		switch v {
		case "text", "json", "std":
			cfg.LogFormat = v
		default:
			return cfg, errors.Errorf("MYSMTP_LOG_FORMAT: unknown format %q", v)
		}
	}

	if err := envInt64(getenv, "MYSMTP_MAX_MESSAGE_SIZE", &cfg.MaxMessageSize); err != nil {
		return cfg, err
	}
	if err := envInt64(getenv, "MYSMTP_INDEX_CACHE", &cfg.IndexCacheSize); err != nil {
		return cfg, err
	}

	var maxConns int64
	if err := envInt64(getenv, "MYSMTP_MAX_CONNECTIONS", &maxConns); err != nil {
		return cfg, err
	}
	cfg.MaxConnections = int(maxConns)

	if err := envDuration(getenv, "MYSMTP_IDLE_TIMEOUT", &cfg.IdleTimeout); err != nil {
		return cfg, err
	}
	if err := envDuration(getenv, "MYSMTP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func envInt64(getenv func(string) string, key string, dst *int64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return errors.Errorf("%s: invalid value %q", key, v)
	}
	*dst = n
	return nil
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return errors.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

// sessionLimits builds the per-session limits from cfg.
func (cfg config) sessionLimits() mysmtp.SessionLimits {
	limits := mysmtp.DefaultSessionLimits()
	limits.MaxMessageSize = cfg.MaxMessageSize
	limits.IdleTimeout = cfg.IdleTimeout
	return limits
}
