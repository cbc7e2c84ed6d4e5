package spool

import "time"

// Config contains configuration options that allow customization of how
// Telegrab detects request files dropped into the spool directory.
type Config struct {
	// Enabled controls whether the spool service runs at all. The spool
	// is only useful when a delivery chat is configured.
	Enabled bool `toml:"enabled" env:"SPOOL_ENABLED" env-default:"false"`

	// The path to the directory the service should monitor for new
	// request files.
	Path string `toml:"path" env:"SPOOL_PATH"`

	// DeliveryChatID is the Telegram chat that downloads requested via the
	// spool are delivered to.
	DeliveryChatID int64 `toml:"delivery_chat_id" env:"SPOOL_DELIVERY_CHAT_ID"`

	// The SpoolService uses a directory watcher, but a 'force' sync can be
	// performed on a regular interval to protect against the watcher failing.
	ForceSyncSeconds int `toml:"force_sync_seconds" env:"SPOOL_FORCE_SYNC_SECONDS" env-default:"30"`

	// When a new file is detected, it may still be mid-write by whatever
	// software placed it there. As we cannot KNOW when the write is
	// complete, we instead wait for the 'modtime' of the file to be at
	// least this long in the past before processing.
	RequiredModTimeAgeSeconds int `toml:"required_modtime_age_seconds" env:"SPOOL_REQUIRED_MODTIME_AGE_SECONDS" env-default:"5"`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}
