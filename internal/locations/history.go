package locations

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	id "locations-inside-prison/pkg/domain"
)

// Attribute names recorded in change history rows.
const (
	AttributeStatus            = "STATUS"
	AttributeCode              = "CODE"
	AttributeLocalName         = "LOCAL_NAME"
	AttributeMaxCapacity       = "MAX_CAPACITY"
	AttributeWorkingCapacity   = "WORKING_CAPACITY"
	AttributeCNA               = "CERTIFIED_NORMAL_ACCOMMODATION"
	AttributeCertified         = "CERTIFIED"
	AttributeCellMark          = "CELL_MARK"
	AttributeSanitation        = "IN_CELL_SANITATION"
	AttributeUsedFor           = "USED_FOR"
	AttributeSpecialistCells   = "SPECIALIST_CELL_TYPE"
	AttributeAccommodationType = "ACCOMMODATION_TYPE"
	AttributeConvertedCellType = "CONVERTED_CELL_TYPE"
	AttributeDeactivatedReason = "DEACTIVATED_REASON"
	AttributeParent            = "PARENT"
)

// ChangeRecord is one append-only audit row: one attribute of one location
// changing within one transaction.
type ChangeRecord struct {
	ID            uuid.UUID
	LocationID    id.LocationID
	TransactionID id.TransactionID
	Attribute     string
	OldValue      string
	NewValue      string
	ChangedBy     string
	ChangedAt     time.Time
}

// NewChangeRecord builds one history row.
func NewChangeRecord(locID id.LocationID, txID id.TransactionID, attribute, oldValue, newValue, actor string, at time.Time) ChangeRecord {
	return ChangeRecord{
		ID:            uuid.New(),
		LocationID:    locID,
		TransactionID: txID,
		Attribute:     attribute,
		OldValue:      oldValue,
		NewValue:      newValue,
		ChangedBy:     actor,
		ChangedAt:     at,
	}
}

// DiffForHistory compares the persisted and mutated state of one location and
// produces a history row per changed attribute.
func DiffForHistory(before, after *Location, txID id.TransactionID, actor string, at time.Time) []ChangeRecord {
	var records []ChangeRecord
	add := func(attribute, oldValue, newValue string) {
		if oldValue != newValue {
			records = append(records, NewChangeRecord(after.ID, txID, attribute, oldValue, newValue, actor, at))
		}
	}

	add(AttributeStatus, string(before.Status), string(after.Status))
	add(AttributeCode, before.Code, after.Code)
	add(AttributeLocalName, before.LocalName, after.LocalName)
	add(AttributeMaxCapacity, itoa(before.Capacity.MaxCapacity), itoa(after.Capacity.MaxCapacity))
	add(AttributeWorkingCapacity, itoa(before.Capacity.WorkingCapacity), itoa(after.Capacity.WorkingCapacity))
	add(AttributeCNA, itoa(before.Certification.CertifiedNormalAccommodation), itoa(after.Certification.CertifiedNormalAccommodation))
	add(AttributeCertified, fmt.Sprintf("%t", before.Certification.Certified), fmt.Sprintf("%t", after.Certification.Certified))
	add(AttributeCellMark, before.CellMark, after.CellMark)
	add(AttributeAccommodationType, string(before.AccommodationType), string(after.AccommodationType))
	add(AttributeDeactivatedReason, reasonOf(before), reasonOf(after))
	add(AttributeConvertedCellType, convertedOf(before), convertedOf(after))
	add(AttributeUsedFor, joinUsedFor(before.UsedFor), joinUsedFor(after.UsedFor))
	add(AttributeSpecialistCells, joinSpecialist(before.SpecialistCellTypes), joinSpecialist(after.SpecialistCellTypes))
	add(AttributeParent, parentOf(before), parentOf(after))
	return records
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }

func reasonOf(l *Location) string {
	if l.Deactivation == nil {
		return ""
	}
	return string(l.Deactivation.Reason)
}

func convertedOf(l *Location) string {
	if l.ConvertedCellType == nil {
		return ""
	}
	return string(*l.ConvertedCellType)
}

func parentOf(l *Location) string {
	if l.ParentID == nil {
		return ""
	}
	return l.ParentID.String()
}

func joinUsedFor(values []UsedForType) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += string(v)
	}
	return out
}

func joinSpecialist(values []SpecialistCellType) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += string(v)
	}
	return out
}
