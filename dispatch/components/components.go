/*
Package components builds the collaborators shared by the API, the CLI and the
worker from configuration: database, store, audit sinks, pager, feed cache and
check-in ledger.
*/
package components

import (
	"context"
	"database/sql"
	"io"

	"github.com/pkg/errors"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	"github.com/carecoord/welfare-dispatch/dispatch/cache"
	"github.com/carecoord/welfare-dispatch/dispatch/database"
	"github.com/carecoord/welfare-dispatch/dispatch/ledger"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatch/models/postgres"
	"github.com/carecoord/welfare-dispatch/dispatch/service"
	"github.com/carecoord/welfare-dispatch/dispatch/slackmessenger"
	"github.com/carecoord/welfare-dispatch/dispatchworker/scanner"
	"github.com/carecoord/welfare-dispatch/log"
)

type Components struct {
	DBConfig  *database.Config
	DB        *sql.DB
	Store     models.Store
	Sink      audit.Sink
	Notifier  slackmessenger.Notifier
	FeedCache cache.FeedCache
	Ledger    ledger.Reader

	closers []io.Closer
}

// New connects to the database and builds every collaborator. Close releases them.
func New(ctx context.Context) (*Components, error) {
	dbCfg, err := database.LoadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	c, err := build(dbCfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func build(dbCfg *database.Config, db *sql.DB) (*Components, error) {
	c := &Components{DBConfig: dbCfg, DB: db, Store: postgres.NewStore(db)}

	auditCfg, err := audit.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load audit config")
	}
	if c.Sink, c.closers, err = audit.NewSink(auditCfg, db); err != nil {
		return nil, errors.Wrap(err, "failed to build audit sinks")
	}

	slackCfg, err := slackmessenger.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load slack config")
	}
	if c.Notifier, err = slackmessenger.NewNotifier(slackCfg); err != nil {
		return nil, err
	}

	cacheCfg, err := cache.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load cache config")
	}
	if c.FeedCache, err = cache.NewFeedCache(cacheCfg); err != nil {
		return nil, errors.Wrap(err, "failed to connect feed cache")
	}

	ledgerCfg, err := ledger.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger config")
	}
	if c.Ledger, err = ledger.NewReader(ledgerCfg, db); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Components) NewService() (service.Service, error) {
	cfg, err := service.LoadConfig()
	if err != nil {
		return nil, err
	}
	return service.NewService(c.Store, c.Sink, c.Notifier, c.FeedCache, cfg), nil
}

func (c *Components) NewScanner() (*scanner.Scanner, error) {
	cfg, err := scanner.LoadConfig()
	if err != nil {
		return nil, err
	}
	return scanner.New(c.Store, c.Ledger, c.Sink, c.FeedCache, cfg), nil
}

func (c *Components) Close() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			log.API.Warnf("Failed to close audit sink %s", err.Error())
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.API.Warnf("Failed to close database %s", err.Error())
		}
	}
}
