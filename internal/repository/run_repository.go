package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/datafusion/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires a run repository backed by pgxpool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

const runColumns = `id, action_key, secure_mode, status, started_at, completed_at`

func (r *runRepository) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	if r.pool == nil {
		return domain.Run{}, fmt.Errorf("run repository not initialized")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO runs (id, action_key, secure_mode, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+runColumns,
		run.ID,
		run.ActionKey,
		run.SecureMode,
		string(run.Status),
		run.StartedAt,
	)
	created, err := scanRun(row)
	if err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return created, nil
}

func (r *runRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	if r.pool == nil {
		return domain.Run{}, fmt.Errorf("run repository not initialized")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *runRepository) Complete(ctx context.Context, id uuid.UUID, status domain.RunStatus, completedAt time.Time) (domain.Run, error) {
	if r.pool == nil {
		return domain.Run{}, fmt.Errorf("run repository not initialized")
	}
	row := r.pool.QueryRow(
		ctx,
		`UPDATE runs SET status = $2, completed_at = $3
		 WHERE id = $1
		 RETURNING `+runColumns,
		id,
		string(status),
		completedAt,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("complete run: %w", err)
	}
	return run, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run         domain.Run
		status      string
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(&run.ID, &run.ActionKey, &run.SecureMode, &status, &run.StartedAt, &completedAt); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	if completedAt.Valid {
		value := completedAt.Time
		run.CompletedAt = &value
	}
	return run, nil
}
