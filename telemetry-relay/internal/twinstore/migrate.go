package twinstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// migrateLogger routes golang-migrate progress lines into the service log.
type migrateLogger struct {
	log *logrus.Entry
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.log.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// twinsSource resolves dir into a file:// source URL for the twins schema migrations.
func twinsSource(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("twinstore: migrations path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("twinstore: migrations path %q: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("twinstore: migrations path %q is not a directory", dir)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// RunMigrations brings the twins table up to the latest schema in migrationsPath before the
// store opens its pool. A database already at the latest version is not an error.
func RunMigrations(dsn, migrationsPath string, logger *logrus.Entry) error {
	source, err := twinsSource(migrationsPath)
	if err != nil {
		return err
	}
	entry := logger.WithField("migrations", source)

	m, err := migrate.New(source, dsn)
	if err != nil {
		return fmt.Errorf("twinstore: open migrations: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{log: entry}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("twinstore: apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("twinstore: read schema version: %w", err)
	}

	entry = entry.WithField("version", version)
	if dirty {
		entry.Warn("twins schema is dirty, a previous migration did not finish")
		return nil
	}
	entry.Info("twins schema up to date")
	return nil
}
