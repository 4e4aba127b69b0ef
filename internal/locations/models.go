// Package locations holds the residential location model: the tree of wings,
// landings, spurs, cells and non-residential rooms inside a prison, together
// with the capacity and certification arithmetic that keeps parents and
// children consistent.
package locations

import (
	"time"

	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// Status is the lifecycle state of a location.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusActive         Status = "ACTIVE"
	StatusInactive       Status = "INACTIVE"
	StatusArchived       Status = "ARCHIVED"
	StatusLockedActive   Status = "LOCKED_ACTIVE"
	StatusLockedInactive Status = "LOCKED_INACTIVE"
)

// LocationType is the physical classification of a location.
type LocationType string

const (
	TypeWing             LocationType = "WING"
	TypeLanding          LocationType = "LANDING"
	TypeSpur             LocationType = "SPUR"
	TypeCell             LocationType = "CELL"
	TypeRoom             LocationType = "ROOM"
	TypeStore            LocationType = "STORE"
	TypeOffice           LocationType = "OFFICE"
	TypeVisits           LocationType = "VISITS"
	TypeAdjudicationRoom LocationType = "ADJUDICATION_ROOM"
	TypeHoldingArea      LocationType = "HOLDING_AREA"
)

// Kind is the behavioral variant of a location. Dispatch on Kind instead of
// LocationType wherever behavior, not labeling, is the question.
type Kind string

const (
	KindCell           Kind = "CELL"
	KindResidential    Kind = "RESIDENTIAL"     // wings, landings, spurs
	KindNonResidential Kind = "NON_RESIDENTIAL" // stores, offices, visits rooms
)

// KindOf derives the behavioral variant from the physical type.
func KindOf(t LocationType) Kind {
	switch t {
	case TypeCell:
		return KindCell
	case TypeWing, TypeLanding, TypeSpur:
		return KindResidential
	default:
		return KindNonResidential
	}
}

// AccommodationType applies to cells only.
type AccommodationType string

const (
	AccommodationNormal             AccommodationType = "NORMAL_ACCOMMODATION"
	AccommodationCareAndSeparation  AccommodationType = "CARE_AND_SEPARATION"
	AccommodationHealthcareInpatient AccommodationType = "HEALTHCARE_INPATIENTS"
	AccommodationOtherNonResidential AccommodationType = "OTHER_NON_RESIDENTIAL"
)

// SpecialistCellType marks cells with a specialist purpose. A cell carrying
// any specialist type may legitimately hold a working capacity of zero.
type SpecialistCellType string

const (
	SpecialistAccessible          SpecialistCellType = "ACCESSIBLE_CELL"
	SpecialistBiohazard           SpecialistCellType = "BIOHAZARD_DIRTY_PROTEST"
	SpecialistConstantSupervision SpecialistCellType = "CONSTANT_SUPERVISION"
	SpecialistDryCell             SpecialistCellType = "DRY"
	SpecialistEscapeList          SpecialistCellType = "ESCAPE_LIST"
	SpecialistIsolation           SpecialistCellType = "ISOLATION_DISEASES"
	SpecialistListener            SpecialistCellType = "LISTENER_CRISIS"
	SpecialistSafeCell            SpecialistCellType = "SAFE_CELL"
)

// UsedForType tags what a residential location is used for. Tags apply down
// the subtree and are filterable.
type UsedForType string

const (
	UsedForStandard            UsedForType = "STANDARD_ACCOMMODATION"
	UsedForCloseSupervision    UsedForType = "CLOSE_SUPERVISION_CENTRE"
	UsedForFirstNight          UsedForType = "FIRST_NIGHT_CENTRE"
	UsedForHealthcare          UsedForType = "HEALTHCARE"
	UsedForMothersAndBabies    UsedForType = "MOTHER_AND_BABY_UNIT"
	UsedForPersonalityDisorder UsedForType = "PERSONALITY_DISORDER"
	UsedForRemand              UsedForType = "REMAND_CENTRE"
	UsedForSegregation         UsedForType = "SEGREGATION"
	UsedForVulnerablePrisoners UsedForType = "VULNERABLE_PRISONER_UNIT"
)

// ConvertedCellType records what a repurposed cell became.
type ConvertedCellType string

const (
	ConvertedOffice       ConvertedCellType = "OFFICE"
	ConvertedShower       ConvertedCellType = "SHOWER"
	ConvertedStore        ConvertedCellType = "STORE"
	ConvertedUtilityRoom  ConvertedCellType = "UTILITY_ROOM"
	ConvertedInterviewRoom ConvertedCellType = "INTERVIEW_ROOM"
	ConvertedOther        ConvertedCellType = "OTHER"
)

// DeactivatedReason is why a location was taken out of use.
type DeactivatedReason string

const (
	ReasonDamaged        DeactivatedReason = "DAMAGED"
	ReasonDamp           DeactivatedReason = "DAMP"
	ReasonMaintenance    DeactivatedReason = "MAINTENANCE"
	ReasonMothballed     DeactivatedReason = "MOTHBALLED"
	ReasonPest           DeactivatedReason = "PEST"
	ReasonRefurbishment  DeactivatedReason = "REFURBISHMENT"
	ReasonSecuritySealed DeactivatedReason = "SECURITY_SEALED"
	ReasonStaffShortage  DeactivatedReason = "STAFF_SHORTAGE"
	ReasonOther          DeactivatedReason = "OTHER"
)

// Capacity holds the max and working capacity counts for a location.
// For non-leaf locations both values are aggregates over direct children.
type Capacity struct {
	MaxCapacity     int `json:"maxCapacity"`
	WorkingCapacity int `json:"workingCapacity"`
}

// Add accumulates another capacity into this one.
func (c *Capacity) Add(other Capacity) {
	c.MaxCapacity += other.MaxCapacity
	c.WorkingCapacity += other.WorkingCapacity
}

// Certification holds the certified flag and the certified normal
// accommodation (CNA) count. For non-leaf locations CNA is the sum over
// certified children.
type Certification struct {
	Certified                    bool `json:"certified"`
	CertifiedNormalAccommodation int  `json:"capacityOfCertifiedCell"`
}

// PendingChange is a staged, not-yet-effective edit awaiting certification
// approval. Only the populated fields change on approval.
type PendingChange struct {
	MaxCapacity                  *int    `json:"maxCapacity,omitempty"`
	WorkingCapacity              *int    `json:"workingCapacity,omitempty"`
	CertifiedNormalAccommodation *int    `json:"certifiedNormalAccommodation,omitempty"`
	CellMark                     *string `json:"cellMark,omitempty"`
	InCellSanitation             *bool   `json:"inCellSanitation,omitempty"`

	// Deactivation holds a whole-location deactivation awaiting sign-off.
	Deactivation *DeactivationDetails `json:"deactivation,omitempty"`
}

// IsZero reports whether nothing at all is staged.
func (p *PendingChange) IsZero() bool {
	return p == nil || (p.MaxCapacity == nil && p.WorkingCapacity == nil &&
		p.CertifiedNormalAccommodation == nil && p.CellMark == nil &&
		p.InCellSanitation == nil && p.Deactivation == nil)
}

// DeactivationDetails carries the metadata of a deactivation, live or staged.
type DeactivationDetails struct {
	Reason                   DeactivatedReason `json:"reason"`
	ReasonDescription        string            `json:"reasonDescription,omitempty"`
	ProposedReactivationDate *time.Time        `json:"proposedReactivationDate,omitempty"`
	PlanetFMReference        string            `json:"planetFMReference,omitempty"`
	Permanent                bool              `json:"permanent,omitempty"`
}

// Validate rejects OTHER deactivations without free text.
func (d DeactivationDetails) Validate() error {
	if d.Reason == "" {
		return dErrors.New(dErrors.CodeBadRequest, "deactivation reason is required")
	}
	if d.Reason == ReasonOther && d.ReasonDescription == "" {
		return dErrors.New(dErrors.CodeOtherReasonWithoutDetail, "deactivation reason OTHER requires a description")
	}
	return nil
}

// Location is one node in a prison's location tree.
type Location struct {
	ID            id.LocationID
	PrisonID      string
	Code          string
	PathHierarchy string
	ParentID      *id.LocationID

	LocationType LocationType
	LocalName    string
	Status       Status

	// Cell-only attributes.
	AccommodationType   AccommodationType
	SpecialistCellTypes []SpecialistCellType
	CellMark            string
	InCellSanitation    *bool

	UsedFor []UsedForType

	Capacity      Capacity
	Certification Certification

	// Deactivation metadata. Deactivation is nil while the location is in use.
	Deactivation        *DeactivationDetails
	DeactivatedByParent bool
	DeactivatedAt       *time.Time
	DeactivatedBy       string
	// OldWorkingCapacity snapshots working capacity at deactivation so
	// reactivation can restore it.
	OldWorkingCapacity *int

	// ConvertedCellType is set while a cell is repurposed as non-residential.
	ConvertedCellType *ConvertedCellType

	PendingChange            *PendingChange
	PendingApprovalRequestID *id.ApprovalRequestID

	CreatedAt time.Time
	UpdatedAt time.Time
	UpdatedBy string
}

// Key is the business identifier: prisonId-pathHierarchy.
func (l *Location) Key() string {
	return l.PrisonID + "-" + l.PathHierarchy
}

// Kind returns the behavioral variant, accounting for converted cells.
func (l *Location) Kind() Kind {
	if l.ConvertedCellType != nil {
		return KindNonResidential
	}
	return KindOf(l.LocationType)
}

// IsCell reports whether the location is an unconverted cell.
func (l *Location) IsCell() bool { return l.Kind() == KindCell }

// IsActive reports whether the location currently counts towards working
// capacity.
func (l *Location) IsActive() bool {
	return l.Status == StatusActive || l.Status == StatusLockedActive
}

// IsInactive reports whether the location has been taken out of use without
// being archived.
func (l *Location) IsInactive() bool {
	return l.Status == StatusInactive || l.Status == StatusLockedInactive
}

// IsPermanentlyInactive reports whether the location was archived.
func (l *Location) IsPermanentlyInactive() bool { return l.Status == StatusArchived }

// HasPendingApproval reports whether an approval request is outstanding.
func (l *Location) HasPendingApproval() bool {
	return l.PendingApprovalRequestID != nil
}

// EffectiveCapacity is the contribution this location makes to its parent's
// aggregate. Non-residential locations contribute nothing; temporarily
// inactive locations keep contributing their max capacity (the cells still
// exist) but no working capacity; archived locations contribute nothing.
func (l *Location) EffectiveCapacity() Capacity {
	if l.Kind() == KindNonResidential || l.IsPermanentlyInactive() || l.Status == StatusDraft {
		return Capacity{}
	}
	if !l.IsActive() {
		return Capacity{MaxCapacity: l.Capacity.MaxCapacity}
	}
	return l.Capacity
}

// EffectiveCertification is the contribution to the parent's certification
// aggregate. Only certified, non-archived residential locations count.
func (l *Location) EffectiveCertification() Certification {
	if l.Kind() == KindNonResidential || l.IsPermanentlyInactive() || l.Status == StatusDraft {
		return Certification{}
	}
	return l.Certification
}

// CheckCapacity validates a requested capacity against the location's state.
// Returned errors carry the stable numeric codes of the client contract.
func (l *Location) CheckCapacity(maxCapacity, workingCapacity int) error {
	if maxCapacity < 0 || workingCapacity < 0 {
		return dErrors.New(dErrors.CodeInvalidCapacity, "capacity values cannot be negative")
	}
	if workingCapacity > maxCapacity {
		return dErrors.Newf(dErrors.CodeMaxBelowWorking,
			"max capacity (%d) cannot be below working capacity (%d)", maxCapacity, workingCapacity)
	}
	if maxCapacity == 0 && !l.capacityExemptFromMinimum() {
		return dErrors.New(dErrors.CodeInvalidCapacity, "max capacity must be greater than zero")
	}
	if workingCapacity == 0 && l.requiresWorkingCapacity() {
		return dErrors.New(dErrors.CodeZeroWorkingCapacity,
			"working capacity of zero is not allowed for a normal accommodation cell")
	}
	return nil
}

// capacityExemptFromMinimum: drafts, archived locations and converted cells
// may hold a max capacity of zero.
func (l *Location) capacityExemptFromMinimum() bool {
	return l.Status == StatusDraft || l.IsPermanentlyInactive() || l.ConvertedCellType != nil
}

// requiresWorkingCapacity: an active normal-accommodation cell with no
// specialist type must keep at least one working place.
func (l *Location) requiresWorkingCapacity() bool {
	return l.IsCell() &&
		l.IsActive() &&
		l.AccommodationType == AccommodationNormal &&
		len(l.SpecialistCellTypes) == 0
}

// ApplyPending applies the staged change to the location and returns the
// attribute names that actually changed. Capacity and CNA deltas feed the
// hierarchy aggregator; cell mark and sanitation are leaf-only attributes.
// Deactivations are not applied here; they run through the cascade engine.
func (l *Location) ApplyPending() []string {
	if l.PendingChange == nil {
		return nil
	}
	var changed []string
	p := l.PendingChange
	if p.MaxCapacity != nil && *p.MaxCapacity != l.Capacity.MaxCapacity {
		l.Capacity.MaxCapacity = *p.MaxCapacity
		changed = append(changed, AttributeMaxCapacity)
	}
	if p.WorkingCapacity != nil && *p.WorkingCapacity != l.Capacity.WorkingCapacity {
		l.Capacity.WorkingCapacity = *p.WorkingCapacity
		changed = append(changed, AttributeWorkingCapacity)
	}
	if p.CertifiedNormalAccommodation != nil && *p.CertifiedNormalAccommodation != l.Certification.CertifiedNormalAccommodation {
		l.Certification.CertifiedNormalAccommodation = *p.CertifiedNormalAccommodation
		changed = append(changed, AttributeCNA)
	}
	if p.CellMark != nil && *p.CellMark != l.CellMark {
		l.CellMark = *p.CellMark
		changed = append(changed, AttributeCellMark)
	}
	if p.InCellSanitation != nil {
		if l.InCellSanitation == nil || *l.InCellSanitation != *p.InCellSanitation {
			value := *p.InCellSanitation
			l.InCellSanitation = &value
			changed = append(changed, AttributeSanitation)
		}
	}
	return changed
}

// ClearPending drops the staged change and the approval link.
func (l *Location) ClearPending() {
	l.PendingChange = nil
	l.PendingApprovalRequestID = nil
}

// Clone deep-copies the location so callers can diff against a before-image
// or hand copies across store boundaries.
func (l *Location) Clone() *Location {
	dup := *l
	if l.ParentID != nil {
		parentID := *l.ParentID
		dup.ParentID = &parentID
	}
	dup.SpecialistCellTypes = append([]SpecialistCellType(nil), l.SpecialistCellTypes...)
	dup.UsedFor = append([]UsedForType(nil), l.UsedFor...)
	if l.InCellSanitation != nil {
		v := *l.InCellSanitation
		dup.InCellSanitation = &v
	}
	if l.OldWorkingCapacity != nil {
		v := *l.OldWorkingCapacity
		dup.OldWorkingCapacity = &v
	}
	if l.DeactivatedAt != nil {
		v := *l.DeactivatedAt
		dup.DeactivatedAt = &v
	}
	if l.Deactivation != nil {
		d := *l.Deactivation
		if d.ProposedReactivationDate != nil {
			dt := *d.ProposedReactivationDate
			d.ProposedReactivationDate = &dt
		}
		dup.Deactivation = &d
	}
	if l.ConvertedCellType != nil {
		v := *l.ConvertedCellType
		dup.ConvertedCellType = &v
	}
	if l.PendingApprovalRequestID != nil {
		v := *l.PendingApprovalRequestID
		dup.PendingApprovalRequestID = &v
	}
	if l.PendingChange != nil {
		p := *l.PendingChange
		p.MaxCapacity = copyIntPtr(l.PendingChange.MaxCapacity)
		p.WorkingCapacity = copyIntPtr(l.PendingChange.WorkingCapacity)
		p.CertifiedNormalAccommodation = copyIntPtr(l.PendingChange.CertifiedNormalAccommodation)
		if l.PendingChange.CellMark != nil {
			v := *l.PendingChange.CellMark
			p.CellMark = &v
		}
		if l.PendingChange.InCellSanitation != nil {
			v := *l.PendingChange.InCellSanitation
			p.InCellSanitation = &v
		}
		if l.PendingChange.Deactivation != nil {
			d := *l.PendingChange.Deactivation
			p.Deactivation = &d
		}
		dup.PendingChange = &p
	}
	return &dup
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}
