package bot

type Config struct {
	// BotToken is the Telegram Bot API token issued by BotFather.
	BotToken string `toml:"bot_token" env:"BOT_TOKEN" env-required:"true" validate:"required"`

	// AllowedChats restricts which chats may issue commands. When empty,
	// commands are accepted from any chat.
	AllowedChats []int64 `toml:"allowed_chats" env:"BOT_ALLOWED_CHATS"`

	// UpdateTimeoutSeconds is the long-polling timeout used when receiving
	// updates from Telegram.
	UpdateTimeoutSeconds int `toml:"update_timeout_seconds" env:"BOT_UPDATE_TIMEOUT_SECONDS" env-default:"60"`

	// InterSendPauseMillis is the pause between consecutive deliveries of a
	// bulk (/getall) request, to stay clear of Telegram rate limits.
	InterSendPauseMillis int `toml:"inter_send_pause_millis" env:"BOT_INTER_SEND_PAUSE_MILLIS" env-default:"1200"`

	// HistoryDefaultLimit is the number of records shown by /history when
	// the user does not ask for a specific amount.
	HistoryDefaultLimit int `toml:"history_default_limit" env:"BOT_HISTORY_DEFAULT_LIMIT" env-default:"10"`
}
