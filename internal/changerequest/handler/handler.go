// Package handler exposes the change request engine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/store"
	"changeflow/internal/changerequest/workflow"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
	"changeflow/pkg/platform/httputil"
	"changeflow/pkg/requestcontext"
)

// Service defines the engine operations the handler drives.
type Service interface {
	Create(ctx context.Context, actor models.Actor, req *models.CreateRequest) (*models.Aggregate, error)
	FindAll(ctx context.Context, limit, offset int) (*store.Page, error)
	FindOne(ctx context.Context, id int64) (*models.Aggregate, error)
	FindByUser(ctx context.Context, userID int64, limit, offset int) (*store.Page, error)
	FindByRole(ctx context.Context, actor models.Actor, role models.Role, viewAll bool) ([]*models.ChangeRequest, error)
	Search(ctx context.Context, filter models.SearchFilter) (*store.Page, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	Update(ctx context.Context, id int64, actor models.Actor, req *models.UpdateRequest) (*models.Aggregate, error)
	Remove(ctx context.Context, id int64, actor models.Actor) error
	CanEditOrDelete(ctx context.Context, id int64, actor models.Actor) (bool, error)
	Approve(ctx context.Context, id int64, actor models.Actor, req *models.ApproveRequest) (*models.Aggregate, error)
	Reject(ctx context.Context, id int64, actor models.Actor, req *models.RejectRequest) (*models.Aggregate, error)
	UpdateITOfficerFields(ctx context.Context, id int64, actor models.Actor, req *models.ITOfficerFieldsRequest) (*models.Aggregate, error)
	AddTestingResults(ctx context.Context, id int64, actor models.Actor, req *models.TestingResultsRequest) (*models.Aggregate, error)
	AddQAChecklist(ctx context.Context, id int64, actor models.Actor, req *models.QAChecklistRequest) (*models.Aggregate, error)
	AddDeploymentTeamMember(ctx context.Context, id int64, actor models.Actor, req *models.DeploymentTeamMemberRequest) (*models.Aggregate, error)
	AddAttachment(ctx context.Context, id int64, actor models.Actor, upload *models.AttachmentUpload) (*models.Attachment, error)
	Close(ctx context.Context, id int64, actor models.Actor, req *models.CloseRequest) (*models.Aggregate, error)
	History(ctx context.Context, id int64) ([]audit.Entry, error)
	Approvals(ctx context.Context, id int64) ([]models.Approval, error)
}

// Handler handles the change request endpoints. Authentication runs before it: every
// handler reads the actor placed in the context by the auth middleware.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a new change request Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

// Register mounts the change request routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/change-requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleFindAll)
		r.Get("/search", h.handleSearch)
		r.Get("/mine", h.handleFindMine)
		r.Get("/queue", h.handleQueue)
		r.Get("/statistics", h.handleStatistics)
		r.Get("/categories", h.handleCategories)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleFindOne)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleRemove)
			r.Get("/permissions", h.handlePermissions)
			r.Post("/approve", h.handleApprove)
			r.Post("/reject", h.handleReject)
			r.Put("/it-officer", h.handleITOfficerFields)
			r.Post("/testing-results", h.handleTestingResults)
			r.Post("/qa-checklists", h.handleQAChecklist)
			r.Post("/deployment-team", h.handleDeploymentTeam)
			r.Post("/attachments", h.handleAttachment)
			r.Post("/close", h.handleClose)
			r.Get("/history", h.handleHistory)
			r.Get("/approvals", h.handleApprovals)
		})
	})
}

// actorFrom builds the engine actor from the identity the auth middleware resolved.
func actorFrom(ctx context.Context) models.Actor {
	return models.Actor{
		ID:    requestcontext.ActorID(ctx),
		Roles: models.ParseRoles(requestcontext.ActorRoles(ctx)),
	}
}

// fail logs err at a level matching its code and writes the error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := requestcontext.RequestID(ctx)
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeTimeout) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

type pageResponse struct {
	Items  []*models.ChangeRequest `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func newPageResponse(page *store.Page, limit, offset int) pageResponse {
	items := page.Items
	if items == nil {
		items = []*models.ChangeRequest{}
	}
	return pageResponse{Items: items, Total: page.Total, Limit: limit, Offset: offset}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.Create(ctx, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to create change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agg)
}

func (h *Handler) handleFindAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := parsePaging(r)
	if err != nil {
		h.fail(ctx, w, "invalid paging", err)
		return
	}
	page, err := h.service.FindAll(ctx, limit, offset)
	if err != nil {
		h.fail(ctx, w, "failed to list change requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(page, limit, offset))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseSearchFilter(r)
	if err != nil {
		h.fail(ctx, w, "invalid search filter", err)
		return
	}
	page, err := h.service.Search(ctx, *filter)
	if err != nil {
		h.fail(ctx, w, "failed to search change requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(page, filter.Limit, filter.Offset))
}

func (h *Handler) handleFindMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := parsePaging(r)
	if err != nil {
		h.fail(ctx, w, "invalid paging", err)
		return
	}
	page, err := h.service.FindByUser(ctx, actorFrom(ctx).ID, limit, offset)
	if err != nil {
		h.fail(ctx, w, "failed to list own change requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(page, limit, offset))
}

type queueResponse struct {
	Role  models.Role             `json:"role"`
	Items []*models.ChangeRequest `json:"items"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = actor.PrimaryRole()
	}
	viewAll, err := parseBool(r, "view_all")
	if err != nil {
		h.fail(ctx, w, "invalid queue query", err)
		return
	}

	items, err := h.service.FindByRole(ctx, actor, role, viewAll)
	if err != nil {
		h.fail(ctx, w, "failed to load queue", err)
		return
	}
	if items == nil {
		items = []*models.ChangeRequest{}
	}
	httputil.WriteJSON(w, http.StatusOK, queueResponse{Role: role, Items: items})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Statistics(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to compute statistics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCategories(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"categories": workflow.Categories()})
}

func (h *Handler) handleFindOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	agg, err := h.service.FindOne(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.Update(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to update change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	if err := h.service.Remove(ctx, id, actorFrom(ctx)); err != nil {
		h.fail(ctx, w, "failed to delete change request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	can, err := h.service.CanEditOrDelete(ctx, id, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to check permissions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"can_edit_or_delete": can})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.Approve(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to approve change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.Reject(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to reject change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleITOfficerFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ITOfficerFieldsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.UpdateITOfficerFields(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to update IT officer fields", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleTestingResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.TestingResultsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.AddTestingResults(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to add testing results", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agg)
}

func (h *Handler) handleQAChecklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.QAChecklistRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.AddQAChecklist(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to add QA checklist", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agg)
}

func (h *Handler) handleDeploymentTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.DeploymentTeamMemberRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.AddDeploymentTeamMember(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to add deployment team member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agg)
}

func (h *Handler) handleAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	upload, err := readUpload(w, r)
	if err != nil {
		h.fail(ctx, w, "invalid attachment upload", err)
		return
	}
	att, err := h.service.AddAttachment(ctx, id, actorFrom(ctx), upload)
	if err != nil {
		h.fail(ctx, w, "failed to add attachment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, att)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CloseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	agg, err := h.service.Close(ctx, id, actorFrom(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to close change request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	entries, err := h.service.History(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load history", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(r)
	if err != nil {
		h.fail(ctx, w, "invalid change request id", err)
		return
	}
	approvals, err := h.service.Approvals(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load approvals", err)
		return
	}
	if approvals == nil {
		approvals = []models.Approval{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}
