package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Applies the schema under scripts/migrations to the calendar sync database.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		dbHost  = flag.String("db-host", "localhost", "Database host")
		dbPort  = flag.Int("db-port", 5432, "Database port")
		dbUser  = flag.String("db-user", "admin", "Database user")
		dbPass  = flag.String("db-pass", "securepassword", "Database password")
		dbName  = flag.String("db-name", "calendar_sync", "Database name")
		command = flag.String("command", "up", "up, down or force")
		version = flag.Int("version", 1, "Schema version, used by force")
	)
	flag.Parse()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		*dbHost, *dbPort, *dbUser, *dbPass, *dbName)

	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database DSN")
	}
	db := stdlib.OpenDB(*config)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Migration driver setup failed")
	}
	m, err := migrate.NewWithDatabaseInstance("file://scripts/migrations", "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Migrator setup failed")
	}

	switch *command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Migration up failed")
		}
		log.Info().Msg("Schema is up to date")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Migration down failed")
		}
		log.Info().Msg("Schema reverted")
	case "force":
		if err := m.Force(*version); err != nil {
			log.Fatal().Err(err).Int("version", *version).Msg("Forcing schema version failed")
		}
		log.Info().Int("version", *version).Msg("Schema version forced")
	default:
		log.Fatal().Str("command", *command).Msg("Unknown migration command")
	}
}
