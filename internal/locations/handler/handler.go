// Package handler exposes the locations API over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/locations/service"
	"locations-inside-prison/internal/platform/httpjson"
	"locations-inside-prison/internal/platform/middleware"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service is the locations operations the handler needs.
type Service interface {
	GetLocation(ctx context.Context, locID id.LocationID) (*locations.Location, error)
	GetLocationByKey(ctx context.Context, prisonID, pathHierarchy string) (*locations.Location, error)
	GetResidentialSummary(ctx context.Context, prisonID, pathHierarchy string) ([]*service.ResidentialSummary, error)
	History(ctx context.Context, locID id.LocationID) ([]locations.ChangeRecord, error)

	CreateCell(ctx context.Context, req service.CreateCellRequest, actor string) (*locations.Location, error)
	CreateWing(ctx context.Context, req service.CreateWingRequest, actor string) (*locations.Location, error)
	CreateNonResidential(ctx context.Context, req service.CreateNonResidentialRequest, actor string) (*locations.Location, error)
	DeleteDraft(ctx context.Context, locID id.LocationID) error

	SetCapacity(ctx context.Context, locID id.LocationID, req service.SetCapacityRequest, actor string) (*locations.Location, error)
	SetCellMark(ctx context.Context, locID id.LocationID, cellMark, actor string) (*locations.Location, error)
	SetInCellSanitation(ctx context.Context, locID id.LocationID, sanitation bool, actor string) (*locations.Location, error)
	UpdateLocalName(ctx context.Context, locID id.LocationID, localName, actor string) (*locations.Location, error)
	UpdateUsedFor(ctx context.Context, locID id.LocationID, usedFor []locations.UsedForType, actor string) (*locations.Location, error)
	UpdateSpecialistCellTypes(ctx context.Context, locID id.LocationID, types []locations.SpecialistCellType, actor string) (*locations.Location, error)
	ConvertCellToNonResidential(ctx context.Context, locID id.LocationID, converted locations.ConvertedCellType, actor string) (*locations.Location, error)
	ConvertToCell(ctx context.Context, locID id.LocationID, req service.ConvertToCellRequest, actor string) (*locations.Location, error)

	Deactivate(ctx context.Context, locID id.LocationID, details locations.DeactivationDetails, actor string) (*locations.Location, error)
	Reactivate(ctx context.Context, locID id.LocationID, override *locations.Capacity, cascade bool, actor string) (*locations.Location, error)
	BulkDeactivate(ctx context.Context, prisonID string, items []service.BulkDeactivationItem, actor string) ([]*locations.Location, error)
	BulkReactivate(ctx context.Context, prisonID string, items []service.BulkReactivationItem, actor string) ([]*locations.Location, error)
}

// Handler serves the locations routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts every locations endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/locations", func(r chi.Router) {
		r.Post("/cell", h.createCell)
		r.Post("/wing", h.createWing)
		r.Post("/non-residential", h.createNonResidential)
		r.Get("/key/{prisonID}/{pathHierarchy}", h.getByKey)

		r.Route("/{locationID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.deleteDraft)
			r.Get("/history", h.history)
			r.Put("/capacity", h.setCapacity)
			r.Put("/cell-mark", h.setCellMark)
			r.Put("/in-cell-sanitation", h.setInCellSanitation)
			r.Put("/local-name", h.updateLocalName)
			r.Put("/used-for", h.updateUsedFor)
			r.Put("/specialist-cell-types", h.updateSpecialistCellTypes)
			r.Put("/convert-to-non-residential", h.convertCell)
			r.Put("/convert-to-cell", h.convertToCell)
			r.Put("/deactivate", h.deactivate)
			r.Put("/reactivate", h.reactivate)
		})
	})
	r.Route("/prisons/{prisonID}", func(r chi.Router) {
		r.Get("/residential-summary", h.residentialSummary)
		r.Put("/deactivate", h.bulkDeactivate)
		r.Put("/reactivate", h.bulkReactivate)
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.GetLocation(r.Context(), locID)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) getByKey(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.GetLocationByKey(r.Context(),
		chi.URLParam(r, "prisonID"), chi.URLParam(r, "pathHierarchy"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) residentialSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.GetResidentialSummary(r.Context(),
		chi.URLParam(r, "prisonID"), r.URL.Query().Get("pathHierarchy"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toSummaryResponse(s))
	}
	httpjson.Respond(w, http.StatusOK, out)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	records, err := h.svc.History(r.Context(), locID)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toHistoryResponses(records))
}

type createCellBody struct {
	PrisonID                     string                         `json:"prisonId"`
	ParentID                     string                         `json:"parentId"`
	Code                         string                         `json:"code"`
	LocalName                    string                         `json:"localName"`
	AccommodationType            locations.AccommodationType    `json:"accommodationType"`
	MaxCapacity                  int                            `json:"maxCapacity"`
	WorkingCapacity              int                            `json:"workingCapacity"`
	CertifiedNormalAccommodation int                            `json:"certifiedNormalAccommodation"`
	Certified                    bool                           `json:"certified"`
	SpecialistCellTypes          []locations.SpecialistCellType `json:"specialistCellTypes"`
	UsedFor                      []locations.UsedForType        `json:"usedFor"`
	CellMark                     string                         `json:"cellMark"`
	InCellSanitation             *bool                          `json:"inCellSanitation"`
}

func (h *Handler) createCell(w http.ResponseWriter, r *http.Request) {
	var body createCellBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	parentID, err := id.ParseLocationID(body.ParentID)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.CreateCell(r.Context(), service.CreateCellRequest{
		PrisonID:                     body.PrisonID,
		ParentID:                     parentID,
		Code:                         body.Code,
		LocalName:                    body.LocalName,
		AccommodationType:            body.AccommodationType,
		MaxCapacity:                  body.MaxCapacity,
		WorkingCapacity:              body.WorkingCapacity,
		CertifiedNormalAccommodation: body.CertifiedNormalAccommodation,
		Certified:                    body.Certified,
		SpecialistCellTypes:          body.SpecialistCellTypes,
		UsedFor:                      body.UsedFor,
		CellMark:                     body.CellMark,
		InCellSanitation:             body.InCellSanitation,
	}, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusCreated, toLocationResponse(loc))
}

type createWingBody struct {
	PrisonID  string                  `json:"prisonId"`
	Code      string                  `json:"code"`
	LocalName string                  `json:"localName"`
	UsedFor   []locations.UsedForType `json:"usedFor"`
	Landings  []struct {
		Code  string `json:"code"`
		Cells []struct {
			Code                         string                         `json:"code"`
			AccommodationType            locations.AccommodationType    `json:"accommodationType"`
			MaxCapacity                  int                            `json:"maxCapacity"`
			WorkingCapacity              int                            `json:"workingCapacity"`
			CertifiedNormalAccommodation int                            `json:"certifiedNormalAccommodation"`
			SpecialistCellTypes          []locations.SpecialistCellType `json:"specialistCellTypes"`
			InCellSanitation             *bool                          `json:"inCellSanitation"`
		} `json:"cells"`
	} `json:"landings"`
}

func (h *Handler) createWing(w http.ResponseWriter, r *http.Request) {
	var body createWingBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	req := service.CreateWingRequest{
		PrisonID:  body.PrisonID,
		Code:      body.Code,
		LocalName: body.LocalName,
		UsedFor:   body.UsedFor,
	}
	for _, landing := range body.Landings {
		spec := service.CreateLandingSpec{Code: landing.Code}
		for _, cell := range landing.Cells {
			spec.Cells = append(spec.Cells, service.CreateCellSpec{
				Code:                         cell.Code,
				AccommodationType:            cell.AccommodationType,
				MaxCapacity:                  cell.MaxCapacity,
				WorkingCapacity:              cell.WorkingCapacity,
				CertifiedNormalAccommodation: cell.CertifiedNormalAccommodation,
				SpecialistCellTypes:          cell.SpecialistCellTypes,
				InCellSanitation:             cell.InCellSanitation,
			})
		}
		req.Landings = append(req.Landings, spec)
	}
	loc, err := h.svc.CreateWing(r.Context(), req, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusCreated, toLocationResponse(loc))
}

type createNonResidentialBody struct {
	PrisonID     string                 `json:"prisonId"`
	ParentID     *string                `json:"parentId"`
	Code         string                 `json:"code"`
	LocalName    string                 `json:"localName"`
	LocationType locations.LocationType `json:"locationType"`
}

func (h *Handler) createNonResidential(w http.ResponseWriter, r *http.Request) {
	var body createNonResidentialBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	req := service.CreateNonResidentialRequest{
		PrisonID:     body.PrisonID,
		Code:         body.Code,
		LocalName:    body.LocalName,
		LocationType: body.LocationType,
	}
	if body.ParentID != nil {
		parentID, err := id.ParseLocationID(*body.ParentID)
		if err != nil {
			httpjson.Error(w, r, h.logger, err)
			return
		}
		req.ParentID = &parentID
	}
	loc, err := h.svc.CreateNonResidential(r.Context(), req, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusCreated, toLocationResponse(loc))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	if err := h.svc.DeleteDraft(r.Context(), locID); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusNoContent, nil)
}

type setCapacityBody struct {
	MaxCapacity                  int  `json:"maxCapacity"`
	WorkingCapacity              int  `json:"workingCapacity"`
	CertifiedNormalAccommodation *int `json:"certifiedNormalAccommodation"`
}

func (h *Handler) setCapacity(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body setCapacityBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.SetCapacity(r.Context(), locID, service.SetCapacityRequest{
		MaxCapacity:                  body.MaxCapacity,
		WorkingCapacity:              body.WorkingCapacity,
		CertifiedNormalAccommodation: body.CertifiedNormalAccommodation,
	}, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) setCellMark(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		CellMark string `json:"cellMark"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.SetCellMark(r.Context(), locID, body.CellMark, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) setInCellSanitation(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		InCellSanitation *bool `json:"inCellSanitation"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	if body.InCellSanitation == nil {
		httpjson.Error(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "inCellSanitation is required"))
		return
	}
	loc, err := h.svc.SetInCellSanitation(r.Context(), locID, *body.InCellSanitation, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) updateLocalName(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		LocalName string `json:"localName"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.UpdateLocalName(r.Context(), locID, body.LocalName, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) updateUsedFor(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		UsedFor []locations.UsedForType `json:"usedFor"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.UpdateUsedFor(r.Context(), locID, body.UsedFor, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) updateSpecialistCellTypes(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		SpecialistCellTypes []locations.SpecialistCellType `json:"specialistCellTypes"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.UpdateSpecialistCellTypes(r.Context(), locID, body.SpecialistCellTypes, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

func (h *Handler) convertCell(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body struct {
		ConvertedCellType locations.ConvertedCellType `json:"convertedCellType"`
	}
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.ConvertCellToNonResidential(r.Context(), locID, body.ConvertedCellType, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

type convertToCellBody struct {
	AccommodationType            locations.AccommodationType    `json:"accommodationType"`
	SpecialistCellTypes          []locations.SpecialistCellType `json:"specialistCellTypes"`
	MaxCapacity                  int                            `json:"maxCapacity"`
	WorkingCapacity              int                            `json:"workingCapacity"`
	CertifiedNormalAccommodation *int                           `json:"certifiedNormalAccommodation"`
}

func (h *Handler) convertToCell(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body convertToCellBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.ConvertToCell(r.Context(), locID, service.ConvertToCellRequest{
		AccommodationType:            body.AccommodationType,
		SpecialistCellTypes:          body.SpecialistCellTypes,
		MaxCapacity:                  body.MaxCapacity,
		WorkingCapacity:              body.WorkingCapacity,
		CertifiedNormalAccommodation: body.CertifiedNormalAccommodation,
	}, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

type deactivateBody struct {
	Reason                   locations.DeactivatedReason `json:"deactivationReason"`
	ReasonDescription        string                      `json:"deactivationReasonDescription"`
	ProposedReactivationDate *time.Time                  `json:"proposedReactivationDate"`
	PlanetFMReference        string                      `json:"planetFMReference"`
	Permanent                bool                        `json:"permanent"`
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body deactivateBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.Deactivate(r.Context(), locID, locations.DeactivationDetails{
		Reason:                   body.Reason,
		ReasonDescription:        body.ReasonDescription,
		ProposedReactivationDate: body.ProposedReactivationDate,
		PlanetFMReference:        body.PlanetFMReference,
		Permanent:                body.Permanent,
	}, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

type reactivateBody struct {
	Capacity *locations.Capacity `json:"capacity"`
	Cascade  bool                `json:"cascadeReactivation"`
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	locID, err := locationID(r)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body reactivateBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.svc.Reactivate(r.Context(), locID, body.Capacity, body.Cascade, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponse(loc))
}

type bulkDeactivateBody struct {
	Locations map[string]deactivateBody `json:"locations"`
}

func (h *Handler) bulkDeactivate(w http.ResponseWriter, r *http.Request) {
	var body bulkDeactivateBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	items := make([]service.BulkDeactivationItem, 0, len(body.Locations))
	for rawID, details := range body.Locations {
		locID, err := id.ParseLocationID(rawID)
		if err != nil {
			httpjson.Error(w, r, h.logger, err)
			return
		}
		items = append(items, service.BulkDeactivationItem{
			LocationID: locID,
			Details: locations.DeactivationDetails{
				Reason:                   details.Reason,
				ReasonDescription:        details.ReasonDescription,
				ProposedReactivationDate: details.ProposedReactivationDate,
				PlanetFMReference:        details.PlanetFMReference,
				Permanent:                details.Permanent,
			},
		})
	}
	locs, err := h.svc.BulkDeactivate(r.Context(), chi.URLParam(r, "prisonID"), items, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponses(locs))
}

type bulkReactivateBody struct {
	Locations map[string]reactivateBody `json:"locations"`
}

func (h *Handler) bulkReactivate(w http.ResponseWriter, r *http.Request) {
	var body bulkReactivateBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	items := make([]service.BulkReactivationItem, 0, len(body.Locations))
	for rawID, item := range body.Locations {
		locID, err := id.ParseLocationID(rawID)
		if err != nil {
			httpjson.Error(w, r, h.logger, err)
			return
		}
		items = append(items, service.BulkReactivationItem{
			LocationID: locID,
			Capacity:   item.Capacity,
			Cascade:    item.Cascade,
		})
	}
	locs, err := h.svc.BulkReactivate(r.Context(), chi.URLParam(r, "prisonID"), items, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toLocationResponses(locs))
}

func locationID(r *http.Request) (id.LocationID, error) {
	return id.ParseLocationID(chi.URLParam(r, "locationID"))
}
