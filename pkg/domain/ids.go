// Package domain holds the typed identifiers shared across the service.
// Wrapping uuid.UUID in distinct named types lets the compiler catch a
// location ID being passed where an approval request ID belongs.
package domain

import (
	"github.com/google/uuid"

	dErrors "locations-inside-prison/pkg/domain-errors"
)

// LocationID identifies a location node. Stable across renames and moves.
type LocationID uuid.UUID

// ApprovalRequestID identifies a certification approval request.
type ApprovalRequestID uuid.UUID

// CertificateID identifies a cell certificate snapshot.
type CertificateID uuid.UUID

// TransactionID groups the history rows written by a single operation.
type TransactionID uuid.UUID

func NewLocationID() LocationID               { return LocationID(uuid.New()) }
func NewApprovalRequestID() ApprovalRequestID { return ApprovalRequestID(uuid.New()) }
func NewCertificateID() CertificateID         { return CertificateID(uuid.New()) }
func NewTransactionID() TransactionID         { return TransactionID(uuid.New()) }

func (id LocationID) String() string        { return uuid.UUID(id).String() }
func (id ApprovalRequestID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) String() string     { return uuid.UUID(id).String() }
func (id TransactionID) String() string     { return uuid.UUID(id).String() }

func (id LocationID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be the nil UUID")
	}
	return parsed, nil
}

// ParseLocationID validates raw input at a trust boundary.
func ParseLocationID(raw string) (LocationID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return LocationID(uuid.Nil), err
	}
	return LocationID(parsed), nil
}

// ParseApprovalRequestID validates raw input at a trust boundary.
func ParseApprovalRequestID(raw string) (ApprovalRequestID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return ApprovalRequestID(uuid.Nil), err
	}
	return ApprovalRequestID(parsed), nil
}

// ParseCertificateID validates raw input at a trust boundary.
func ParseCertificateID(raw string) (CertificateID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return CertificateID(uuid.Nil), err
	}
	return CertificateID(parsed), nil
}
