package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	sqlFlavor = sqlbuilder.PostgreSQL

	uniqueViolation = "23505"
)

// Ensure Repository satisfies the interface
var _ models.Repository = &Repository{}

type Repository struct {
	queryable
	executable
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db, db}
}

func NewRepositoryTx(tx *sql.Tx) *Repository {
	return &Repository{tx, tx}
}

// Ensure Store satisfies the interface
var _ models.Store = &Store{}

// Store is a Repository over a connection pool that can open transactions.
type Store struct {
	*Repository
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{Repository: NewRepository(db), db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(models.Repository) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.API.Warnf("Failed to rollback transaction %s", rbErr.Error())
			}
		}
	}()

	if err = fn(NewRepositoryTx(tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
