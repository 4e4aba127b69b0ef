// Package handler exposes the certification workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/certification"
	"locations-inside-prison/internal/platform/httpjson"
	"locations-inside-prison/internal/platform/middleware"
	id "locations-inside-prison/pkg/domain"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service is the certification operations the handler needs.
type Service interface {
	RequestApproval(ctx context.Context, locID id.LocationID, actor string) (*certification.ApprovalRequest, error)
	Approve(ctx context.Context, reqID id.ApprovalRequestID, comment, actor string) (*certification.ApprovalRequest, error)
	Reject(ctx context.Context, reqID id.ApprovalRequestID, comment, actor string) (*certification.ApprovalRequest, error)
	GetRequest(ctx context.Context, reqID id.ApprovalRequestID) (*certification.ApprovalRequest, error)
	ListByPrison(ctx context.Context, prisonID string, status certification.ApprovalStatus) ([]*certification.ApprovalRequest, error)

	GetCertificate(ctx context.Context, certID id.CertificateID) (*certificates.CellCertificate, error)
	CurrentCertificate(ctx context.Context, prisonID string) (*certificates.CellCertificate, error)
	CertificateHistory(ctx context.Context, prisonID string) ([]*certificates.CellCertificate, error)
}

// Handler serves the certification routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts every certification endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/certification", func(r chi.Router) {
		r.Post("/location/{locationID}/request-approval", h.requestApproval)
		r.Route("/requests/{requestID}", func(r chi.Router) {
			r.Get("/", h.getRequest)
			r.Put("/approve", h.approve)
			r.Put("/reject", h.reject)
		})
		r.Get("/prison/{prisonID}/requests", h.listRequests)
	})
	r.Route("/certificates", func(r chi.Router) {
		r.Get("/{certificateID}", h.getCertificate)
		r.Get("/prison/{prisonID}/current", h.currentCertificate)
		r.Get("/prison/{prisonID}/history", h.certificateHistory)
	})
}

func (h *Handler) requestApproval(w http.ResponseWriter, r *http.Request) {
	locID, err := id.ParseLocationID(chi.URLParam(r, "locationID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	req, err := h.svc.RequestApproval(r.Context(), locID, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusCreated, toRequestResponse(req))
}

type decisionBody struct {
	Comment string `json:"comment"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, reqID id.ApprovalRequestID, comment, actor string) (*certification.ApprovalRequest, error)) {
	reqID, err := id.ParseApprovalRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	var body decisionBody
	if err := httpjson.Decode(r, &body); err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	req, err := decide(r.Context(), reqID, body.Comment, middleware.GetActor(r.Context()))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseApprovalRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	req, err := h.svc.GetRequest(r.Context(), reqID)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	status := certification.ApprovalStatus(r.URL.Query().Get("status"))
	reqs, err := h.svc.ListByPrison(r.Context(), chi.URLParam(r, "prisonID"), status)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	out := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestResponse(req))
	}
	httpjson.Respond(w, http.StatusOK, out)
}

func (h *Handler) getCertificate(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	cert, err := h.svc.GetCertificate(r.Context(), certID)
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) currentCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.svc.CurrentCertificate(r.Context(), chi.URLParam(r, "prisonID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	httpjson.Respond(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) certificateHistory(w http.ResponseWriter, r *http.Request) {
	certs, err := h.svc.CertificateHistory(r.Context(), chi.URLParam(r, "prisonID"))
	if err != nil {
		httpjson.Error(w, r, h.logger, err)
		return
	}
	out := make([]certificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, toCertificateResponse(cert))
	}
	httpjson.Respond(w, http.StatusOK, out)
}

// requestResponse is the wire shape of an approval request.
type requestResponse struct {
	ID            string `json:"id"`
	PrisonID      string `json:"prisonId"`
	LocationID    string `json:"locationId"`
	LocationKey   string `json:"locationKey"`
	PathHierarchy string `json:"pathHierarchy"`
	ApprovalType  string `json:"approvalType"`
	Status        string `json:"status"`

	MaxCapacityChange     int `json:"maxCapacityChange"`
	WorkingCapacityChange int `json:"workingCapacityChange"`
	CNAChange             int `json:"certifiedNormalAccommodationChange"`

	RequestedBy string     `json:"requestedBy"`
	RequestedAt time.Time  `json:"requestedDate"`
	DecidedBy   string     `json:"decidedBy,omitempty"`
	DecidedAt   *time.Time `json:"decidedDate,omitempty"`
	Comment     string     `json:"comment,omitempty"`

	CertificateID *string `json:"certificateId,omitempty"`

	AffectedLocations []certificates.SnapshotNode `json:"affectedLocations,omitempty"`
}

func toRequestResponse(req *certification.ApprovalRequest) requestResponse {
	resp := requestResponse{
		ID:                    req.ID.String(),
		PrisonID:              req.PrisonID,
		LocationID:            req.LocationID.String(),
		LocationKey:           req.LocationKey,
		PathHierarchy:         req.PathHierarchy,
		ApprovalType:          string(req.ApprovalType),
		Status:                string(req.Status),
		MaxCapacityChange:     req.MaxCapacityChange,
		WorkingCapacityChange: req.WorkingCapacityChange,
		CNAChange:             req.CNAChange,
		RequestedBy:           req.RequestedBy,
		RequestedAt:           req.RequestedAt,
		DecidedBy:             req.DecidedBy,
		DecidedAt:             req.DecidedAt,
		Comment:               req.Comment,
		AffectedLocations:     req.AffectedLocations,
	}
	if req.CertificateID != nil {
		v := req.CertificateID.String()
		resp.CertificateID = &v
	}
	return resp
}

// certificateResponse is the wire shape of a cell certificate.
type certificateResponse struct {
	ID         string    `json:"id"`
	PrisonID   string    `json:"prisonId"`
	ApprovedBy string    `json:"approvedBy"`
	ApprovedAt time.Time `json:"approvedDate"`
	Current    bool      `json:"current"`

	TotalMaxCapacity             int `json:"totalMaxCapacity"`
	TotalWorkingCapacity         int `json:"totalWorkingCapacity"`
	CertifiedNormalAccommodation int `json:"certifiedNormalAccommodation"`

	Locations []certificates.SnapshotNode `json:"locations"`
}

func toCertificateResponse(cert *certificates.CellCertificate) certificateResponse {
	return certificateResponse{
		ID:                           cert.ID.String(),
		PrisonID:                     cert.PrisonID,
		ApprovedBy:                   cert.ApprovedBy,
		ApprovedAt:                   cert.ApprovedAt,
		Current:                      cert.Current,
		TotalMaxCapacity:             cert.TotalMaxCapacity,
		TotalWorkingCapacity:         cert.TotalWorkingCapacity,
		CertifiedNormalAccommodation: cert.CertifiedNormalAccommodation,
		Locations:                    cert.Locations,
	}
}
