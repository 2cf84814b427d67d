// Package twinstore persists twin properties and applies partial updates to them.
package twinstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"twin-relay/pkg/twin"
)

const (
	KindPostgres = "postgres"
	KindDynamoDB = "dynamodb"
)

var ErrTwinNotFound = errors.New("twin not found")

type Store interface {
	UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error
	// EnsureTwin creates an empty twin when none exists. Existing twins are left untouched.
	EnsureTwin(ctx context.Context, twinID string) error
	Close() error
}

type Options struct {
	Kind           string
	PostgresDSN    string
	MigrationsPath string
	DynamoTable    string
	DynamoEndpoint string
}

// Open connects the configured backend. Postgres migrations run first when a path is given.
func Open(ctx context.Context, opts Options, logger *logrus.Entry) (Store, error) {
	switch opts.Kind {
	case KindPostgres:
		if opts.MigrationsPath != "" {
			if err := RunMigrations(opts.PostgresDSN, opts.MigrationsPath, logger); err != nil {
				return nil, err
			}
		}
		s, err := NewPostgresStore(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindDynamoDB:
		s, err := NewDynamoStore(ctx, opts.DynamoTable, opts.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("twinstore: unknown store kind %q", opts.Kind)
}
