package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcedureEnqueuer implements push.Enqueuer by calling a stored procedure
// that materializes work items for one notification kind.
type ProcedureEnqueuer struct {
	db        *pgxpool.Pool
	procedure string
	query     string
}

// NewProcedureEnqueuer creates an enqueuer for a function name, optionally schema qualified.
func NewProcedureEnqueuer(db *pgxpool.Pool, procedure string) (*ProcedureEnqueuer, error) {
	procedure = strings.TrimSpace(procedure)
	if procedure == "" {
		return nil, errors.New("enqueue procedure name is empty")
	}

	parts := strings.Split(procedure, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid enqueue procedure name %q", procedure)
		}
	}

	return &ProcedureEnqueuer{
		db:        db,
		procedure: procedure,
		query:     "SELECT " + pgx.Identifier(parts).Sanitize() + "()",
	}, nil
}

// Name returns the procedure name.
func (e *ProcedureEnqueuer) Name() string {
	return e.procedure
}

// Enqueue runs the procedure.
func (e *ProcedureEnqueuer) Enqueue(ctx context.Context) error {
	if _, err := e.db.Exec(ctx, e.query); err != nil {
		return fmt.Errorf("call %s: %w", e.procedure, err)
	}
	return nil
}
