package database

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items. The database is optional; when disabled,
// download history is simply not persisted.
type DatabaseConfig struct {
	Enabled  bool   `toml:"enabled" env:"DB_ENABLED" env-default:"false"`
	User     string `toml:"username" env:"DB_USERNAME"`
	Password string `toml:"password" env:"DB_PASSWORD"`
	Name     string `toml:"name" env:"DB_NAME" env-default:"TELEGRAB_DB"`
	Host     string `toml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
	Port     string `toml:"port" env:"DB_PORT" env-default:"5432"`
}
