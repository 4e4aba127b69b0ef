package locations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
	txcontext "locations-inside-prison/pkg/platform/tx"
)

// PostgresStore persists locations with an explicit parent-id foreign key.
// The tree shape is materialized in memory per request (see Tree); the store
// only deals in flat rows.
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

const locationColumns = `
	id, prison_id, code, path_hierarchy, parent_id, location_type, local_name,
	status, accommodation_type, specialist_cell_types, cell_mark,
	in_cell_sanitation, used_for, max_capacity, working_capacity, certified,
	certified_normal_accommodation, deactivation, deactivated_by_parent,
	deactivated_at, deactivated_by, old_working_capacity, converted_cell_type,
	pending_change, pending_approval_request_id, created_at, updated_at, updated_by`

func (s *PostgresStore) FindByID(ctx context.Context, locID id.LocationID) (*Location, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = $1`, uuid.UUID(locID))
	return scanLocation(row)
}

func (s *PostgresStore) FindByKey(ctx context.Context, prisonID, pathHierarchy string) (*Location, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE prison_id = $1 AND path_hierarchy = $2`,
		prisonID, pathHierarchy)
	return scanLocation(row)
}

func (s *PostgresStore) FindAllByPrison(ctx context.Context, prisonID string) ([]*Location, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE prison_id = $1 ORDER BY path_hierarchy`,
		prisonID)
	if err != nil {
		return nil, fmt.Errorf("query locations for prison %s: %w", prisonID, err)
	}
	defer rows.Close()

	var out []*Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, locs ...*Location) error {
	const query = `
		INSERT INTO locations (` + locationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			path_hierarchy = EXCLUDED.path_hierarchy,
			parent_id = EXCLUDED.parent_id,
			location_type = EXCLUDED.location_type,
			local_name = EXCLUDED.local_name,
			status = EXCLUDED.status,
			accommodation_type = EXCLUDED.accommodation_type,
			specialist_cell_types = EXCLUDED.specialist_cell_types,
			cell_mark = EXCLUDED.cell_mark,
			in_cell_sanitation = EXCLUDED.in_cell_sanitation,
			used_for = EXCLUDED.used_for,
			max_capacity = EXCLUDED.max_capacity,
			working_capacity = EXCLUDED.working_capacity,
			certified = EXCLUDED.certified,
			certified_normal_accommodation = EXCLUDED.certified_normal_accommodation,
			deactivation = EXCLUDED.deactivation,
			deactivated_by_parent = EXCLUDED.deactivated_by_parent,
			deactivated_at = EXCLUDED.deactivated_at,
			deactivated_by = EXCLUDED.deactivated_by,
			old_working_capacity = EXCLUDED.old_working_capacity,
			converted_cell_type = EXCLUDED.converted_cell_type,
			pending_change = EXCLUDED.pending_change,
			pending_approval_request_id = EXCLUDED.pending_approval_request_id,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`

	for _, loc := range locs {
		args, err := locationArgs(loc)
		if err != nil {
			return err
		}
		if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("save location %s: %w", loc.Key(), sentinel.ErrConflict)
			}
			return fmt.Errorf("save location %s: %w", loc.Key(), err)
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, locIDs ...id.LocationID) error {
	ids := make([]string, 0, len(locIDs))
	for _, locID := range locIDs {
		ids = append(ids, locID.String())
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM location_history WHERE location_id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete location history: %w", err)
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM locations WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete locations: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, records ...ChangeRecord) error {
	const query = `
		INSERT INTO location_history (
			id, location_id, transaction_id, attribute, old_value, new_value,
			changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, rec := range records {
		if _, err := s.execer(ctx).ExecContext(ctx, query,
			rec.ID, uuid.UUID(rec.LocationID), uuid.UUID(rec.TransactionID),
			rec.Attribute, rec.OldValue, rec.NewValue, rec.ChangedBy, rec.ChangedAt,
		); err != nil {
			return fmt.Errorf("append history for %s: %w", rec.LocationID, err)
		}
	}
	return nil
}

func (s *PostgresStore) HistoryForLocation(ctx context.Context, locID id.LocationID) ([]ChangeRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, location_id, transaction_id, attribute, old_value, new_value,
		       changed_by, changed_at
		FROM location_history
		WHERE location_id = $1
		ORDER BY changed_at, attribute`, uuid.UUID(locID))
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", locID, err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		var recLocID, recTxID uuid.UUID
		if err := rows.Scan(&rec.ID, &recLocID, &recTxID, &rec.Attribute,
			&rec.OldValue, &rec.NewValue, &rec.ChangedBy, &rec.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.LocationID = id.LocationID(recLocID)
		rec.TransactionID = id.TransactionID(recTxID)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func locationArgs(loc *Location) ([]any, error) {
	var parentID any
	if loc.ParentID != nil {
		parentID = uuid.UUID(*loc.ParentID)
	}
	var deactivationJSON, pendingJSON any
	if loc.Deactivation != nil {
		raw, err := json.Marshal(loc.Deactivation)
		if err != nil {
			return nil, fmt.Errorf("marshal deactivation: %w", err)
		}
		deactivationJSON = raw
	}
	if loc.PendingChange != nil {
		raw, err := json.Marshal(loc.PendingChange)
		if err != nil {
			return nil, fmt.Errorf("marshal pending change: %w", err)
		}
		pendingJSON = raw
	}
	var pendingApprovalID any
	if loc.PendingApprovalRequestID != nil {
		pendingApprovalID = uuid.UUID(*loc.PendingApprovalRequestID)
	}
	var convertedCellType any
	if loc.ConvertedCellType != nil {
		convertedCellType = string(*loc.ConvertedCellType)
	}

	specialist := make([]string, 0, len(loc.SpecialistCellTypes))
	for _, v := range loc.SpecialistCellTypes {
		specialist = append(specialist, string(v))
	}
	usedFor := make([]string, 0, len(loc.UsedFor))
	for _, v := range loc.UsedFor {
		usedFor = append(usedFor, string(v))
	}

	return []any{
		uuid.UUID(loc.ID), loc.PrisonID, loc.Code, loc.PathHierarchy, parentID,
		string(loc.LocationType), loc.LocalName, string(loc.Status),
		nullableString(string(loc.AccommodationType)), pq.Array(specialist),
		loc.CellMark, loc.InCellSanitation, pq.Array(usedFor),
		loc.Capacity.MaxCapacity, loc.Capacity.WorkingCapacity,
		loc.Certification.Certified, loc.Certification.CertifiedNormalAccommodation,
		deactivationJSON, loc.DeactivatedByParent, loc.DeactivatedAt,
		nullableString(loc.DeactivatedBy), loc.OldWorkingCapacity,
		convertedCellType, pendingJSON, pendingApprovalID,
		loc.CreatedAt, loc.UpdatedAt, loc.UpdatedBy,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*Location, error) {
	var loc Location
	var parentID, pendingApprovalID uuid.NullUUID
	var accommodationType, deactivatedBy, convertedCellType sql.NullString
	var specialist, usedFor pq.StringArray
	var deactivationJSON, pendingJSON []byte
	var oldWorking sql.NullInt64
	var deactivatedAt sql.NullTime
	var locID uuid.UUID
	var locationType, status string
	var inCellSanitation sql.NullBool

	err := row.Scan(
		&locID, &loc.PrisonID, &loc.Code, &loc.PathHierarchy, &parentID,
		&locationType, &loc.LocalName, &status, &accommodationType,
		&specialist, &loc.CellMark, &inCellSanitation, &usedFor,
		&loc.Capacity.MaxCapacity, &loc.Capacity.WorkingCapacity,
		&loc.Certification.Certified, &loc.Certification.CertifiedNormalAccommodation,
		&deactivationJSON, &loc.DeactivatedByParent, &deactivatedAt,
		&deactivatedBy, &oldWorking, &convertedCellType, &pendingJSON,
		&pendingApprovalID, &loc.CreatedAt, &loc.UpdatedAt, &loc.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}

	loc.ID = id.LocationID(locID)
	loc.LocationType = LocationType(locationType)
	loc.Status = Status(status)
	if parentID.Valid {
		pid := id.LocationID(parentID.UUID)
		loc.ParentID = &pid
	}
	if accommodationType.Valid {
		loc.AccommodationType = AccommodationType(accommodationType.String)
	}
	for _, v := range specialist {
		loc.SpecialistCellTypes = append(loc.SpecialistCellTypes, SpecialistCellType(v))
	}
	for _, v := range usedFor {
		loc.UsedFor = append(loc.UsedFor, UsedForType(v))
	}
	if inCellSanitation.Valid {
		v := inCellSanitation.Bool
		loc.InCellSanitation = &v
	}
	if len(deactivationJSON) > 0 {
		var d DeactivationDetails
		if err := json.Unmarshal(deactivationJSON, &d); err != nil {
			return nil, fmt.Errorf("unmarshal deactivation: %w", err)
		}
		loc.Deactivation = &d
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		loc.DeactivatedAt = &t
	}
	if deactivatedBy.Valid {
		loc.DeactivatedBy = deactivatedBy.String
	}
	if oldWorking.Valid {
		v := int(oldWorking.Int64)
		loc.OldWorkingCapacity = &v
	}
	if convertedCellType.Valid {
		v := ConvertedCellType(convertedCellType.String)
		loc.ConvertedCellType = &v
	}
	if len(pendingJSON) > 0 {
		var p PendingChange
		if err := json.Unmarshal(pendingJSON, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pending change: %w", err)
		}
		loc.PendingChange = &p
	}
	if pendingApprovalID.Valid {
		v := id.ApprovalRequestID(pendingApprovalID.UUID)
		loc.PendingApprovalRequestID = &v
	}
	return &loc, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
