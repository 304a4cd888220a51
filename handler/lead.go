package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phbpx/leadboard"
	"github.com/phbpx/leadboard/metrics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const defaultSearchLimit = 5

type LeadHandler struct {
	service  leadboard.LeadService
	pipeline leadboard.Pipeline
	validate *validator.Validate
	log      *otelzap.SugaredLogger
}

func NewLeadHandler(service leadboard.LeadService, pipeline leadboard.Pipeline, log *otelzap.SugaredLogger) *LeadHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &LeadHandler{
		service:  service,
		pipeline: pipeline,
		validate: validate,
		log:      log,
	}
}

// Routes mounts the lead board endpoints on r.
func (lh LeadHandler) Routes(r chi.Router) {
	r.Route("/leads", func(r chi.Router) {
		r.Get("/", lh.List)
		r.Post("/", lh.Create)
		r.Put("/", lh.TransitionStage)
		r.Get("/search", lh.Search)

		r.Post("/comment", lh.AddComment)
		r.Put("/comment", lh.EditComment)
		r.Delete("/comment", lh.DeleteComment)

		r.Get("/{id}", lh.GetByID)
		r.Put("/{id}/comments/{commentID}", lh.EditCommentByID)
		r.Delete("/{id}/comments/{commentID}", lh.DeleteCommentByID)
	})
	r.Get("/stages", lh.Stages)
}

type transitionRequest struct {
	LeadID    string          `json:"leadId" validate:"required"`
	NewStatus leadboard.Stage `json:"newStatus" validate:"required"`
}

type addCommentRequest struct {
	LeadID  string `json:"leadId" validate:"required"`
	Comment string `json:"comment"`
}

type editCommentRequest struct {
	LeadID       string `json:"leadId" validate:"required"`
	CommentIndex *int   `json:"commentIndex" validate:"required"`
	NewComment   string `json:"newComment"`
}

type deleteCommentRequest struct {
	LeadID       string `json:"leadId" validate:"required"`
	CommentIndex *int   `json:"commentIndex" validate:"required"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

// List returns the whole board. With ?date=YYYY-MM-DD it returns the board as
// it stood on that day instead.
func (lh LeadHandler) List(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := lh.service.List(ctx)
	if err != nil {
		lh.fail(ctx, rw, "List", err)
		return
	}

	if date := r.URL.Query().Get("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			lh.log.Ctx(ctx).Errorw("List", "error", err.Error())
			respondErr(ctx, rw, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}
		snap = snap.AsOf(lh.pipeline, day)
	}

	respond(ctx, rw, http.StatusOK, snap)
}

func (lh LeadHandler) Search(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondErr(ctx, rw, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	snap, err := lh.service.List(ctx)
	if err != nil {
		lh.fail(ctx, rw, "Search", err)
		return
	}

	respond(ctx, rw, http.StatusOK, snap.Search(lh.pipeline, r.URL.Query().Get("q"), limit))
}

func (lh LeadHandler) GetByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lead, err := lh.service.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		lh.fail(ctx, rw, "GetByID", err)
		return
	}

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) Create(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var newLead leadboard.NewLead
	if !lh.bind(rw, r, "Create", &newLead) {
		return
	}

	lead, err := lh.service.Create(ctx, newLead)
	if err != nil {
		if errors.Is(err, leadboard.ErrDuplicateLead) {
			metrics.RecordDuplicateRejected()
		}
		lh.fail(ctx, rw, "Create", err)
		return
	}
	metrics.RecordLeadCreated()

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) TransitionStage(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transitionRequest
	if !lh.bind(rw, r, "TransitionStage", &req) {
		return
	}

	lead, err := lh.service.TransitionStage(ctx, req.LeadID, req.NewStatus)
	if err != nil {
		lh.fail(ctx, rw, "TransitionStage", err)
		return
	}
	metrics.RecordStageTransition(string(req.NewStatus))

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) AddComment(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addCommentRequest
	if !lh.bind(rw, r, "AddComment", &req) {
		return
	}

	lead, err := lh.service.AddComment(ctx, req.LeadID, req.Comment)
	if err != nil {
		lh.fail(ctx, rw, "AddComment", err)
		return
	}
	metrics.RecordCommentOp("add")

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) EditComment(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req editCommentRequest
	if !lh.bind(rw, r, "EditComment", &req) {
		return
	}

	lead, err := lh.service.EditComment(ctx, req.LeadID, *req.CommentIndex, req.NewComment)
	if err != nil {
		lh.fail(ctx, rw, "EditComment", err)
		return
	}
	metrics.RecordCommentOp("edit")

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) DeleteComment(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deleteCommentRequest
	if !lh.bind(rw, r, "DeleteComment", &req) {
		return
	}

	lead, err := lh.service.DeleteComment(ctx, req.LeadID, *req.CommentIndex)
	if err != nil {
		lh.fail(ctx, rw, "DeleteComment", err)
		return
	}
	metrics.RecordCommentOp("delete")

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) EditCommentByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req commentRequest
	if !lh.bind(rw, r, "EditCommentByID", &req) {
		return
	}

	lead, err := lh.service.EditCommentByID(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "commentID"), req.Comment)
	if err != nil {
		lh.fail(ctx, rw, "EditCommentByID", err)
		return
	}
	metrics.RecordCommentOp("edit")

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) DeleteCommentByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lead, err := lh.service.DeleteCommentByID(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "commentID"))
	if err != nil {
		lh.fail(ctx, rw, "DeleteCommentByID", err)
		return
	}
	metrics.RecordCommentOp("delete")

	respondLead(ctx, rw, lead)
}

func (lh LeadHandler) Stages(rw http.ResponseWriter, r *http.Request) {
	respond(r.Context(), rw, http.StatusOK, lh.pipeline.Stages())
}

// bind decodes and validates the request body, answering 400 itself when
// either fails.
func (lh LeadHandler) bind(rw http.ResponseWriter, r *http.Request, op string, into interface{}) bool {
	ctx := r.Context()

	if err := decode(r, into); err != nil {
		lh.log.Ctx(ctx).Errorw(op, "error", err.Error())
		lh.reject(ctx, rw, op, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	if err := lh.validate.Struct(into); err != nil {
		lh.log.Ctx(ctx).Errorw(op, "error", err.Error())
		lh.reject(ctx, rw, op, http.StatusBadRequest, validationMessage(err))
		return false
	}

	return true
}

func (lh LeadHandler) fail(ctx context.Context, rw http.ResponseWriter, op string, err error) {
	lh.log.Ctx(ctx).Errorw(op, "error", err.Error())

	switch {
	case errors.Is(err, leadboard.ErrDuplicateLead):
		lh.reject(ctx, rw, op, http.StatusBadRequest, leadboard.ErrDuplicateLead.Error())
	case errors.Is(err, leadboard.ErrLeadNotFound):
		lh.reject(ctx, rw, op, http.StatusNotFound, "Lead not found")
	case errors.Is(err, leadboard.ErrCommentNotFound):
		lh.reject(ctx, rw, op, http.StatusNotFound, "Comment not found")
	case errors.Is(err, leadboard.ErrUnknownStage):
		lh.reject(ctx, rw, op, http.StatusBadRequest, err.Error())
	default:
		lh.reject(ctx, rw, op, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func (lh LeadHandler) reject(ctx context.Context, rw http.ResponseWriter, op string, status int, msg string) {
	env := envelope{Message: msg}
	if op == "Create" {
		env.Error = msg
	}
	respond(ctx, rw, status, env)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}
