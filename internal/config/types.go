package config

import "time"

// Config represents the complete meshbot configuration.
type Config struct {
	// Device is the endpoint of the radio daemon: "unix:/path" or "tcp:host:port".
	Device         string        `yaml:"device" env:"MESHBOT_DEVICE"`
	ChannelIndex   int           `yaml:"channel_index" env:"MESHBOT_CHANNEL_INDEX"`
	CommandPrefix  string        `yaml:"command_prefix" env:"MESHBOT_COMMAND_PREFIX"`
	MaxReplyLen    int           `yaml:"max_reply_len" env:"MESHBOT_MAX_REPLY_LEN"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"MESHBOT_HANDLER_TIMEOUT"`
	LockPath       string        `yaml:"lock_path" env:"MESHBOT_LOCK_PATH"`
	PluginsDir     string        `yaml:"plugins_dir" env:"MESHBOT_PLUGINS_DIR"`

	Log     LogConfig     `yaml:"log"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	Weather WeatherConfig `yaml:"weather"`
	API     APIConfig     `yaml:"api"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"MESHBOT_LOG_LEVEL"`
	Format string `yaml:"format" env:"MESHBOT_LOG_FORMAT"`
}

// MailboxConfig defines store-and-forward settings.
type MailboxConfig struct {
	Path              string        `yaml:"path" env:"MESHBOT_MAILBOX_PATH"`
	MaxBodyLen        int           `yaml:"max_body_len"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	Retention         time.Duration `yaml:"retention"`
	DeliverOnActivity *bool         `yaml:"deliver_on_activity"`
}

// WeatherConfig defines the external weather lookup settings.
type WeatherConfig struct {
	Units        string `yaml:"units"`
	Lang         string `yaml:"lang"`
	DefaultPlace string `yaml:"default_place"`
}

// APIConfig defines the local status HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Key     string `yaml:"key" env:"MESHBOT_API_KEY"`
}

// DeliverOnActivityEnabled reports whether pending mail should be pushed to a
// recipient as soon as they are heard on the channel. Defaults to true.
func (m MailboxConfig) DeliverOnActivityEnabled() bool {
	if m.DeliverOnActivity == nil {
		return true
	}
	return *m.DeliverOnActivity
}

// Defaults returns a Config with sensible defaults for a single-board host.
func Defaults() *Config {
	return &Config{
		Device:         "unix:/run/meshd.sock",
		ChannelIndex:   1,
		CommandPrefix:  "!",
		MaxReplyLen:    220,
		HandlerTimeout: 5 * time.Second,
		LockPath:       "./data/meshbot.pid",
		PluginsDir:     "./plugins",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mailbox: MailboxConfig{
			Path:          "./data/mailbox.jsonl",
			MaxBodyLen:    400,
			QueueCapacity: 10,
			Retention:     7 * 24 * time.Hour,
		},
		Weather: WeatherConfig{
			Units:        "metric",
			Lang:         "en",
			DefaultPlace: "Prague",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
