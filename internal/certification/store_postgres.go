package certification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
	txcontext "locations-inside-prison/pkg/platform/tx"
)

// PostgresStore persists approval requests with the staged change as JSON.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const requestColumns = `
	id, prison_id, location_id, location_key, path_hierarchy, approval_type,
	status, max_capacity_change, working_capacity_change, cna_change,
	requested, affected_locations, requested_by, requested_at, decided_by,
	decided_at, comment, certificate_id`

func (s *PostgresStore) Save(ctx context.Context, req *ApprovalRequest) error {
	var requested any
	if req.Requested != nil {
		raw, err := json.Marshal(req.Requested)
		if err != nil {
			return fmt.Errorf("marshal requested change: %w", err)
		}
		requested = raw
	}
	var affected any
	if len(req.AffectedLocations) > 0 {
		raw, err := json.Marshal(req.AffectedLocations)
		if err != nil {
			return fmt.Errorf("marshal affected locations: %w", err)
		}
		affected = raw
	}
	var certID any
	if req.CertificateID != nil {
		certID = uuid.UUID(*req.CertificateID)
	}
	const query = `
		INSERT INTO approval_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decided_by = EXCLUDED.decided_by,
			decided_at = EXCLUDED.decided_at,
			comment = EXCLUDED.comment,
			certificate_id = EXCLUDED.certificate_id`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), req.PrisonID, uuid.UUID(req.LocationID), req.LocationKey,
		req.PathHierarchy, string(req.ApprovalType), string(req.Status),
		req.MaxCapacityChange, req.WorkingCapacityChange, req.CNAChange,
		requested, affected, req.RequestedBy, req.RequestedAt,
		nullableString(req.DecidedBy), req.DecidedAt, nullableString(req.Comment),
		certID,
	); err != nil {
		return fmt.Errorf("save approval request %s: %w", req.ID, err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reqID id.ApprovalRequestID) (*ApprovalRequest, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, uuid.UUID(reqID))
	return scanRequest(row)
}

func (s *PostgresStore) FindAllByPrison(ctx context.Context, prisonID string, status ApprovalStatus) ([]*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE prison_id = $1`
	args := []any{prisonID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approval requests for prison %s: %w", prisonID, err)
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*ApprovalRequest, error) {
	var req ApprovalRequest
	var reqID, locID uuid.UUID
	var certID uuid.NullUUID
	var approvalType, status string
	var decidedBy, comment sql.NullString
	var decidedAt sql.NullTime
	var requested, affected []byte

	err := row.Scan(
		&reqID, &req.PrisonID, &locID, &req.LocationKey, &req.PathHierarchy,
		&approvalType, &status, &req.MaxCapacityChange, &req.WorkingCapacityChange,
		&req.CNAChange, &requested, &affected, &req.RequestedBy, &req.RequestedAt,
		&decidedBy, &decidedAt, &comment, &certID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval request: %w", err)
	}

	req.ID = id.ApprovalRequestID(reqID)
	req.LocationID = id.LocationID(locID)
	req.ApprovalType = ApprovalType(approvalType)
	req.Status = ApprovalStatus(status)
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if comment.Valid {
		req.Comment = comment.String
	}
	if certID.Valid {
		v := id.CertificateID(certID.UUID)
		req.CertificateID = &v
	}
	if len(requested) > 0 {
		var p locations.PendingChange
		if err := json.Unmarshal(requested, &p); err != nil {
			return nil, fmt.Errorf("unmarshal requested change: %w", err)
		}
		req.Requested = &p
	}
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &req.AffectedLocations); err != nil {
			return nil, fmt.Errorf("unmarshal affected locations: %w", err)
		}
	}
	return &req, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
