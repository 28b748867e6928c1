package cmd

import (
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/budget/crypto"
	"example.com/backstage/budget/database"
	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/eventstore"
	"example.com/backstage/budget/keystore"
	"example.com/backstage/budget/messaging"
	"example.com/backstage/budget/registry"
	"example.com/backstage/budget/tracing"
)

// services holds what the commands are built from
type services struct {
	db     *gorm.DB
	nr     *newrelic.Application
	keys   crypto.KeyManager
	outbox *messaging.Outbox
	store  *eventstore.GormEventStore
}

// newRegistry registers the events and streams of the budget contexts
func newRegistry() (*registry.Registry, error) {
	return registry.New(
		registry.Events(domain.EventCatalog()),
		registry.Streams(domain.StreamCatalog()),
	)
}

func initServices() (*services, error) {
	nr, err := tracing.New(cfg.NewRelic)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	reg, err := newRegistry()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build event registry")
	}

	keys, err := keystore.New(cfg, db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize key store")
	}

	outbox := messaging.NewOutbox()

	return &services{
		db:     db,
		nr:     nr,
		keys:   keys,
		outbox: outbox,
		store:  eventstore.NewGormEventStore(db, reg, keys, outbox),
	}, nil
}
