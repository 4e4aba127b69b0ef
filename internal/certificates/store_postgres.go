package certificates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
	txcontext "locations-inside-prison/pkg/platform/tx"
)

// PostgresStore stores certificates with the snapshot serialized as JSON.
// The snapshot is write-once; demotion only flips the is_current flag.
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

const certificateColumns = `
	id, prison_id, approved_by, approved_at, is_current,
	total_max_capacity, total_working_capacity, certified_normal_accommodation,
	locations`

func (s *PostgresStore) Save(ctx context.Context, cert *CellCertificate) error {
	snapshot, err := json.Marshal(cert.Locations)
	if err != nil {
		return fmt.Errorf("marshal certificate snapshot: %w", err)
	}
	const query = `
		INSERT INTO cell_certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET is_current = EXCLUDED.is_current`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cert.ID), cert.PrisonID, cert.ApprovedBy, cert.ApprovedAt,
		cert.Current, cert.TotalMaxCapacity, cert.TotalWorkingCapacity,
		cert.CertifiedNormalAccommodation, snapshot,
	); err != nil {
		return fmt.Errorf("save certificate %s: %w", cert.ID, err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*CellCertificate, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM cell_certificates WHERE id = $1`, uuid.UUID(certID))
	return scanCertificate(row)
}

func (s *PostgresStore) Current(ctx context.Context, prisonID string) (*CellCertificate, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM cell_certificates WHERE prison_id = $1 AND is_current`,
		prisonID)
	return scanCertificate(row)
}

func (s *PostgresStore) FindAllByPrison(ctx context.Context, prisonID string) ([]*CellCertificate, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+certificateColumns+` FROM cell_certificates WHERE prison_id = $1 ORDER BY approved_at`,
		prisonID)
	if err != nil {
		return nil, fmt.Errorf("query certificates for prison %s: %w", prisonID, err)
	}
	defer rows.Close()

	var out []*CellCertificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotCurrent(ctx context.Context, prisonID string) error {
	if _, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE cell_certificates SET is_current = FALSE WHERE prison_id = $1 AND is_current`,
		prisonID); err != nil {
		return fmt.Errorf("demote current certificate for prison %s: %w", prisonID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*CellCertificate, error) {
	var cert CellCertificate
	var certID uuid.UUID
	var snapshot []byte
	err := row.Scan(
		&certID, &cert.PrisonID, &cert.ApprovedBy, &cert.ApprovedAt, &cert.Current,
		&cert.TotalMaxCapacity, &cert.TotalWorkingCapacity,
		&cert.CertifiedNormalAccommodation, &snapshot,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	cert.ID = id.CertificateID(certID)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &cert.Locations); err != nil {
			return nil, fmt.Errorf("unmarshal certificate snapshot: %w", err)
		}
	}
	return &cert, nil
}
