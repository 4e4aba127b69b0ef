package handler

import (
	"time"

	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/locations/service"
)

// locationResponse is the wire shape of one location.
type locationResponse struct {
	ID            string  `json:"id"`
	Key           string  `json:"key"`
	PrisonID      string  `json:"prisonId"`
	Code          string  `json:"code"`
	PathHierarchy string  `json:"pathHierarchy"`
	ParentID      *string `json:"parentId,omitempty"`

	LocationType string `json:"locationType"`
	LocalName    string `json:"localName,omitempty"`
	Status       string `json:"status"`

	AccommodationType   string                         `json:"accommodationType,omitempty"`
	SpecialistCellTypes []locations.SpecialistCellType `json:"specialistCellTypes,omitempty"`
	UsedFor             []locations.UsedForType        `json:"usedFor,omitempty"`
	CellMark            string                         `json:"cellMark,omitempty"`
	InCellSanitation    *bool                          `json:"inCellSanitation,omitempty"`
	ConvertedCellType   *locations.ConvertedCellType   `json:"convertedCellType,omitempty"`

	Capacity      locations.Capacity      `json:"capacity"`
	Certification locations.Certification `json:"certification"`

	Deactivation        *locations.DeactivationDetails `json:"deactivatedDetails,omitempty"`
	DeactivatedByParent bool                           `json:"deactivatedByParent,omitempty"`
	DeactivatedAt       *time.Time                     `json:"deactivatedDate,omitempty"`
	DeactivatedBy       string                         `json:"deactivatedBy,omitempty"`
	OldWorkingCapacity  *int                           `json:"oldWorkingCapacity,omitempty"`

	PendingChange            *locations.PendingChange `json:"pendingChanges,omitempty"`
	PendingApprovalRequestID *string                  `json:"pendingApprovalRequestId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"lastModifiedDate"`
	UpdatedBy string    `json:"lastModifiedBy"`
}

func toLocationResponse(loc *locations.Location) locationResponse {
	resp := locationResponse{
		ID:                  loc.ID.String(),
		Key:                 loc.Key(),
		PrisonID:            loc.PrisonID,
		Code:                loc.Code,
		PathHierarchy:       loc.PathHierarchy,
		LocationType:        string(loc.LocationType),
		LocalName:           loc.LocalName,
		Status:              string(loc.Status),
		AccommodationType:   string(loc.AccommodationType),
		SpecialistCellTypes: loc.SpecialistCellTypes,
		UsedFor:             loc.UsedFor,
		CellMark:            loc.CellMark,
		InCellSanitation:    loc.InCellSanitation,
		ConvertedCellType:   loc.ConvertedCellType,
		Capacity:            loc.Capacity,
		Certification:       loc.Certification,
		Deactivation:        loc.Deactivation,
		DeactivatedByParent: loc.DeactivatedByParent,
		DeactivatedAt:       loc.DeactivatedAt,
		DeactivatedBy:       loc.DeactivatedBy,
		OldWorkingCapacity:  loc.OldWorkingCapacity,
		PendingChange:       loc.PendingChange,
		CreatedAt:           loc.CreatedAt,
		UpdatedAt:           loc.UpdatedAt,
		UpdatedBy:           loc.UpdatedBy,
	}
	if loc.ParentID != nil {
		v := loc.ParentID.String()
		resp.ParentID = &v
	}
	if loc.PendingApprovalRequestID != nil {
		v := loc.PendingApprovalRequestID.String()
		resp.PendingApprovalRequestID = &v
	}
	return resp
}

func toLocationResponses(locs []*locations.Location) []locationResponse {
	out := make([]locationResponse, 0, len(locs))
	for _, loc := range locs {
		out = append(out, toLocationResponse(loc))
	}
	return out
}

// summaryResponse nests a location with its sub-locations.
type summaryResponse struct {
	locationResponse
	SubLocations []summaryResponse `json:"subLocations,omitempty"`
}

func toSummaryResponse(s *service.ResidentialSummary) summaryResponse {
	out := summaryResponse{locationResponse: toLocationResponse(s.Location)}
	for _, sub := range s.SubLocations {
		out.SubLocations = append(out.SubLocations, toSummaryResponse(sub))
	}
	return out
}

// historyResponse is one change row.
type historyResponse struct {
	Attribute string    `json:"attribute"`
	OldValue  string    `json:"oldValue,omitempty"`
	NewValue  string    `json:"newValue,omitempty"`
	ChangedBy string    `json:"amendedBy"`
	ChangedAt time.Time `json:"amendedDate"`
}

func toHistoryResponses(records []locations.ChangeRecord) []historyResponse {
	out := make([]historyResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, historyResponse{
			Attribute: rec.Attribute,
			OldValue:  rec.OldValue,
			NewValue:  rec.NewValue,
			ChangedBy: rec.ChangedBy,
			ChangedAt: rec.ChangedAt,
		})
	}
	return out
}
