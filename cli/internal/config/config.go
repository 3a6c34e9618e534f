package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the CLI configuration
type Config struct {
	SchemaPath    string
	MigrationsDir string
	DatabaseURL   string
	Debug         bool
}

// LoadConfig loads configuration from config files, .env files and the
// environment, in that order of priority
func LoadConfig() (*Config, error) {
	// Find home directory
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	// Set config file paths
	viper.SetConfigName(".prisma-migrate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "prisma-migrate"))

	// Set environment variable prefix
	viper.SetEnvPrefix("PRISMA_MIGRATE")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("schema_path", "schema.json")
	viper.SetDefault("migrations_dir", "migrations")
	viper.SetDefault("debug", false)

	// Try to read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Load .env file if it exists
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	// Load .env.local if it exists (higher priority)
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		SchemaPath:    viper.GetString("schema_path"),
		MigrationsDir: viper.GetString("migrations_dir"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Debug:         viper.GetBool("debug"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = viper.GetString("database_url")
	}

	return cfg, nil
}

// SaveConfig saves configuration to the user config directory
func SaveConfig(cfg *Config) error {
	viper.Set("schema_path", cfg.SchemaPath)
	viper.Set("migrations_dir", cfg.MigrationsDir)
	viper.Set("debug", cfg.Debug)

	home, err := homedir.Dir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(home, ".config", "prisma-migrate")
	if err := AppFs.MkdirAll(configPath, 0755); err != nil {
		return err
	}

	configFile := filepath.Join(configPath, ".prisma-migrate.yaml")
	return viper.WriteConfigAs(configFile)
}
