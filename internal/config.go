package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/telegrab/telegrab/internal/api"
	"github.com/telegrab/telegrab/internal/bot"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/ffmpeg"
	"github.com/telegrab/telegrab/internal/spool"
	"github.com/telegrab/telegrab/internal/ytdlp"
)

// TelegrabConfig is the struct used to contain the various user config
// supplied by file or environment.
type TelegrabConfig struct {
	Telegram   bot.Config              `toml:"telegram"`
	Downloader download.Config         `toml:"downloader"`
	Ytdlp      ytdlp.Config            `toml:"ytdlp"`
	Ffmpeg     ffmpeg.Config           `toml:"ffmpeg"`
	Spool      spool.Config            `toml:"spool"`
	Database   database.DatabaseConfig `toml:"database"`
	API        api.RestConfig          `toml:"api"`
}

// LoadFromFile reads a TOML configuration file in to a TelegrabConfig. A
// missing file is not an error: the environment alone can supply a complete
// configuration (the bot token is the only required value).
func (config *TelegrabConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load configuration from %s - %w", configPath, err)
		}

		if err := cleanenv.ReadEnv(config); err != nil {
			return fmt.Errorf("failed to load configuration from environment - %w", err)
		}
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration invalid - %w", err)
	}

	return nil
}

// DefaultConfigPath returns the path checked for a configuration file when
// the user does not provide one on the command line.
func DefaultConfigPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return "telegrab.toml"
	}

	return filepath.Join(home, ".config", "telegrab", "config.toml")
}
