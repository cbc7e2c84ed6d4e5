package download

var defaultAllowedHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"youtu.be",
	"m.youtube.com",
}

// Config contains configuration options that control how downloads are
// performed and delivered.
type Config struct {
	// Controls the number of workers performing downloads. Reducing to 1
	// means one download at a time. Caution should be taken not to raise
	// this too high as each worker may also run an ffmpeg transcode.
	Parallelism int `toml:"parallelism" env:"DOWNLOAD_PARALLELISM" env-default:"2"`

	// The size (in MB) that delivered files should be kept below. The
	// public Telegram Bot API rejects uploads over ~50 MB, so the default
	// leaves a little headroom.
	TargetMB int `toml:"target_mb" env:"DOWNLOAD_TARGET_MB" env-default:"49"`

	// Height (in pixels) used for video downloads when the user does not
	// specify one.
	DefaultHeight int `toml:"default_height" env:"DOWNLOAD_DEFAULT_HEIGHT" env-default:"480"`

	// Height cap applied to shrink transcodes. Oversized files are scaled
	// down to at most this height to maximise the chance of fitting the
	// target size.
	MaxShrinkHeight int `toml:"max_shrink_height" env:"DOWNLOAD_MAX_SHRINK_HEIGHT" env-default:"360"`

	// Base directory for per-download scratch directories. Defaults to the
	// OS temp dir when empty.
	ScratchPath string `toml:"scratch_dir" env:"DOWNLOAD_SCRATCH_DIR"`

	// Hosts from which downloads are accepted. A URL is accepted when it's
	// host matches (or is a subdomain of) one of these. Empty means the
	// built-in YouTube host set.
	AllowedHosts []string `toml:"allowed_hosts" env:"DOWNLOAD_ALLOWED_HOSTS"`

	// Number of playlist/channel entries fetched by a bulk request when the
	// user does not specify a limit.
	PlaylistDefaultLimit int `toml:"playlist_default_limit" env:"DOWNLOAD_PLAYLIST_DEFAULT_LIMIT" env-default:"10"`
}

// HostAllowlist returns the configured allowed hosts, falling back to the
// built-in YouTube set when none are configured.
func (config *Config) HostAllowlist() []string {
	if len(config.AllowedHosts) > 0 {
		return config.AllowedHosts
	}

	return defaultAllowedHosts
}
