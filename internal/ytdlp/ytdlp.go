package ytdlp

import (
	"fmt"
	"os/exec"

	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("YtDlp")

// Mode controls whether a download produces a merged video file, or an
// audio-only extraction.
type Mode string

const (
	VIDEO Mode = "video"
	AUDIO Mode = "audio"
)

// ParseMode maps a user-supplied token to a download mode. The boolean is
// false when the token is not a recognised mode.
func ParseMode(token string) (Mode, bool) {
	switch token {
	case "video":
		return VIDEO, true
	case "audio":
		return AUDIO, true
	}

	return "", false
}

type Config struct {
	BinaryPath          string `toml:"ytdlp_binary_path" env:"YTDLP_BINARY_PATH" env-default:"yt-dlp"`
	ConcurrentFragments int    `toml:"concurrent_fragments" env:"YTDLP_CONCURRENT_FRAGMENTS" env-default:"5"`
}

// Client wraps invocations of the yt-dlp binary on the host machine. All
// methods shell out to the binary configured at construction; the binary
// must be present on the PATH (or be an absolute path) for New to succeed.
type Client struct {
	config Config
}

func New(config Config) (*Client, error) {
	if _, err := exec.LookPath(config.BinaryPath); err != nil {
		return nil, fmt.Errorf("yt-dlp binary '%s' not found: %w", config.BinaryPath, err)
	}

	return &Client{config: config}, nil
}
