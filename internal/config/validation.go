package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// MinBroadcastInterval guards against a busy-looping broadcaster.
const MinBroadcastInterval = 10 * time.Millisecond

// InvalidField represents one rejected configuration value
type InvalidField struct {
	Key    string
	Value  string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []InvalidField
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationErrors) add(key, value, reason string) {
	e.Fields = append(e.Fields, InvalidField{Key: key, Value: value, Reason: reason})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s=%q: %s\n", f.Key, f.Value, f.Reason))
	}
	return sb.String()
}

// Validate checks every field and reports all problems at once
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs.add("server.port", c.Server.Port, "must be a number between 1 and 65535")
	}

	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.add("server.base_url", c.Server.BaseURL, "must be an absolute URL")
	}

	if c.Server.UpgradeRate <= 0 {
		errs.add("server.upgrade_rate", fmt.Sprint(c.Server.UpgradeRate), "must be > 0")
	}
	if c.Server.UpgradeBurst < 1 {
		errs.add("server.upgrade_burst", strconv.Itoa(c.Server.UpgradeBurst), "must be >= 1")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs.add("server.shutdown_timeout", c.Server.ShutdownTimeout.String(), "must be > 0")
	}

	if c.Broadcast.Interval < MinBroadcastInterval {
		errs.add("broadcast.interval", c.Broadcast.Interval.String(),
			fmt.Sprintf("must be >= %s", MinBroadcastInterval))
	}

	if c.PubSub.BufferSize < 1 {
		errs.add("pubsub.buffer_size", strconv.Itoa(c.PubSub.BufferSize), "must be >= 1")
	}

	if c.Redis.URL != "" && c.Redis.ChannelPrefix == "" {
		errs.add("redis.channel_prefix", c.Redis.ChannelPrefix, "required when redis.url is set")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs.add("logging.level", c.Logging.Level, "must be one of debug, info, warn, error")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
