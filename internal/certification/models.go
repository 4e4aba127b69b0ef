// Package certification holds the approval workflow that gates changes to
// certified accommodation: staged edits and draft scaffolds become approval
// requests, and signing one off applies the change and issues a fresh cell
// certificate.
package certification

import (
	"time"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
)

// ApprovalType classifies what a request wants signed off.
type ApprovalType string

const (
	ApprovalDraft        ApprovalType = "DRAFT"
	ApprovalCapacity     ApprovalType = "SIGNED_OPERATION_CAPACITY"
	ApprovalCellMark     ApprovalType = "CELL_MARK"
	ApprovalSanitation   ApprovalType = "CELL_SANITATION"
	ApprovalDeactivation ApprovalType = "DEACTIVATION"
)

// ApprovalStatus is the request lifecycle. Decided requests never move again.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// ApprovalRequest is one pending or decided sign-off. The staged change is
// denormalized onto the request so reviewers see what they are approving even
// after the location moves on.
type ApprovalRequest struct {
	ID            id.ApprovalRequestID
	PrisonID      string
	LocationID    id.LocationID
	LocationKey   string
	PathHierarchy string
	ApprovalType  ApprovalType
	Status        ApprovalStatus

	// Deltas against the live values at request time, for the reviewer's
	// summary line. Zero for draft and deactivation requests.
	MaxCapacityChange     int
	WorkingCapacityChange int
	CNAChange             int

	// Requested is a copy of the staged change being decided on.
	Requested *locations.PendingChange

	// AffectedLocations freezes the subtree the decision touches, nested as it
	// stood at request time. For a draft request this is the whole scaffold;
	// there is nothing live to show otherwise.
	AffectedLocations []certificates.SnapshotNode

	RequestedBy string
	RequestedAt time.Time

	DecidedBy string
	DecidedAt *time.Time
	Comment   string

	// CertificateID links the certificate issued by approving this request.
	CertificateID *id.CertificateID
}

// IsPending reports whether the request still awaits a decision.
func (r *ApprovalRequest) IsPending() bool { return r.Status == StatusPending }
