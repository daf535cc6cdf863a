package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when a record with the same id already exists.
var ErrAlreadyExists = errors.New("record already exists")

// ErrConflict is returned when a conditional status update loses a race:
// the record's current claim status is not the expected one.
var ErrConflict = errors.New("claim status conflict")

// Repository provides operations on the databases table. All claim status
// transitions are compare-and-swap: conditioned on the expected prior
// status so that concurrent claim attempts and the sweeper are mutually
// safe without a global lock.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	UpdateClaimStatus(ctx context.Context, id uuid.UUID, from, to ClaimStatus, fields StatusFields) (*Record, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	ListExpiredUnclaimed(ctx context.Context, olderThan time.Time) ([]Record, error)
	DeleteExpiredUnclaimed(ctx context.Context, olderThan time.Time) (int64, error)
}

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

const recordColumns = `id, connection_string, project_id, claimed_project_id,
	       creation_duration_ms, created_at, claim_status, claim_url, claim_error`

// Create inserts a new record with status UNCLAIMED.
func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ClaimStatus == "" {
		rec.ClaimStatus = ClaimStatusUnclaimed
	}

	query := `
		INSERT INTO databases (id, connection_string, project_id, creation_duration_ms, claim_status, claim_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.ConnectionString,
		rec.ProjectID,
		rec.CreationDurationMs,
		rec.ClaimStatus,
		rec.ClaimURL,
	).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting record: %w", err)
	}

	return nil
}

// GetByID retrieves a single record by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM databases WHERE id = $1`, recordColumns)
	return r.scanOne(ctx, query, id)
}

// UpdateClaimStatus transitions a record's claim status from an expected
// prior status to a new one in a single conditional UPDATE. If the record
// exists but its current status differs from the expected one, ErrConflict
// is returned and nothing is written.
func (r *PostgresRepository) UpdateClaimStatus(ctx context.Context, id uuid.UUID, from, to ClaimStatus, fields StatusFields) (*Record, error) {
	setClauses := []string{"claim_status = $1"}
	args := []any{to}
	argIdx := 2

	if fields.ConnectionString != nil {
		setClauses = append(setClauses, fmt.Sprintf("connection_string = $%d", argIdx))
		args = append(args, *fields.ConnectionString)
		argIdx++
	}
	if fields.ClaimedProjectID != nil {
		setClauses = append(setClauses, fmt.Sprintf("claimed_project_id = $%d", argIdx))
		args = append(args, *fields.ClaimedProjectID)
		argIdx++
	}
	if fields.ClaimError != nil {
		setClauses = append(setClauses, fmt.Sprintf("claim_error = $%d", argIdx))
		args = append(args, *fields.ClaimError)
		argIdx++
	} else if fields.ClearClaimError {
		setClauses = append(setClauses, "claim_error = NULL")
	}

	args = append(args, id, from)

	query := fmt.Sprintf(`
		UPDATE databases
		SET %s
		WHERE id = $%d AND claim_status = $%d
		RETURNING %s`,
		strings.Join(setClauses, ", "), argIdx, argIdx+1, recordColumns)

	rec, err := r.scanOne(ctx, query, args...)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Zero rows: either the id is unknown or the CAS lost. Disambiguate.
	if _, gerr := r.GetByID(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, ErrConflict
}

// List retrieves a paginated, filtered list of records.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	whereClause := ""
	var args []any
	if filter.Status != nil {
		whereClause = "WHERE claim_status = $1"
		args = append(args, *filter.Status)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM databases %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	argIdx := len(args) + 1

	dataQuery := fmt.Sprintf(`
		SELECT %s
		FROM databases
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, recordColumns, whereClause, argIdx, argIdx+1)

	args = append(args, filter.Limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Page:    filter.Page,
		Limit:   filter.Limit,
	}, nil
}

// ListExpiredUnclaimed returns records created before olderThan that are
// still UNCLAIMED. CLAIMING and CLAIMED records are excluded regardless of
// age: an in-flight transfer still carries live data.
func (r *PostgresRepository) ListExpiredUnclaimed(ctx context.Context, olderThan time.Time) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM databases
		WHERE created_at < $1 AND claim_status = $2
		ORDER BY created_at`, recordColumns)

	rows, err := r.pool.Query(ctx, query, olderThan, ClaimStatusUnclaimed)
	if err != nil {
		return nil, fmt.Errorf("listing expired records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteExpiredUnclaimed bulk-deletes expired UNCLAIMED records. The status
// predicate is repeated here so a record that raced into CLAIMING between
// the sweep's list and delete survives.
func (r *PostgresRepository) DeleteExpiredUnclaimed(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM databases WHERE created_at < $1 AND claim_status = $2`

	result, err := r.pool.Exec(ctx, query, olderThan, ClaimStatusUnclaimed)
	if err != nil {
		return 0, fmt.Errorf("deleting expired records: %w", err)
	}
	return result.RowsAffected(), nil
}

// scanOne scans a single Record row from a query. Returns ErrNotFound if no rows.
func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&rec.ID, &rec.ConnectionString, &rec.ProjectID, &rec.ClaimedProjectID,
		&rec.CreationDurationMs, &rec.CreatedAt, &rec.ClaimStatus,
		&rec.ClaimURL, &rec.ClaimError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning record row: %w", err)
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.ID, &rec.ConnectionString, &rec.ProjectID, &rec.ClaimedProjectID,
			&rec.CreationDurationMs, &rec.CreatedAt, &rec.ClaimStatus,
			&rec.ClaimURL, &rec.ClaimError,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}
	return records, nil
}
