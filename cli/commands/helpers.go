package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/afero"

	"github.com/baajur/prisma-engines/cli/internal/config"
	migrate "github.com/baajur/prisma-engines/migrate"
	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// loadDesiredSchema reads and validates the desired schema file
func loadDesiredSchema(cfg *config.Config) (*sqlschema.Schema, error) {
	data, err := afero.ReadFile(config.AppFs, cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema %q: %w", cfg.SchemaPath, err)
	}
	schema, err := sqlschema.UnmarshalSchema(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema %q: %w", cfg.SchemaPath, err)
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema %q: %w", cfg.SchemaPath, err)
	}
	return schema, nil
}

// connect opens the database named by the configuration
func connect(ctx context.Context, cfg *config.Config) (*sql.DB, dialect.Dialect, error) {
	if cfg.DatabaseURL == "" {
		return nil, "", fmt.Errorf("no database URL: set DATABASE_URL or pass --url")
	}
	return migrate.Connect(ctx, cfg.DatabaseURL)
}
