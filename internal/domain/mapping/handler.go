package mapping

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/jobs"
	"github.com/ayurbridge/terminology-api/internal/platform/middleware"
	"github.com/ayurbridge/terminology-api/pkg/pagination"
)

const maxBatchSize = 100

type Handler struct {
	svc       *Service
	queue     *jobs.Queue
	itemDelay time.Duration
	logger    zerolog.Logger
}

func NewHandler(svc *Service, queue *jobs.Queue, itemDelay time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, queue: queue, itemDelay: itemDelay, logger: logger}
}

// RegisterRoutes wires the mapping surface. mappingMW guards the interactive
// translate; batchMW guards batch submissions; standardMW guards the rest.
func (h *Handler) RegisterRoutes(e *echo.Echo, mappingMW, batchMW, standardMW []echo.MiddlewareFunc) {
	e.POST("/mapping", h.Translate, mappingMW...)
	e.GET("/mapping", h.List, standardMW...)
	e.GET("/mapping/stats", h.Stats, standardMW...)
	e.PUT("/mapping/:id/validate", h.Validate, standardMW...)

	e.POST("/mapping/batch", h.BatchSync, batchMW...)
	e.POST("/mapping/batch/async", h.BatchAsync, batchMW...)
	e.GET("/mapping/batch/:id", h.BatchStatus, standardMW...)
	e.GET("/mapping/batch/:id/results", h.BatchResults, standardMW...)
	e.DELETE("/mapping/batch/:id", h.BatchCancel, standardMW...)
}

func errorBody(c echo.Context, label, message string) map[string]interface{} {
	rid, _ := c.Get("request_id").(string)
	return map[string]interface{}{
		"error":      label,
		"message":    message,
		"request_id": rid,
	}
}

type translateRequest struct {
	Code    string `json:"code"`
	System  string `json:"system"`
	Term    string `json:"term,omitempty"`
	Context string `json:"context,omitempty"`
}

func (r *translateRequest) validate() string {
	if r.Code == "" {
		return "code is required"
	}
	if r.System == "" {
		return "system is required"
	}
	if !sourcecode.IsValidSystem(r.System) {
		return "system must be one of ayurveda, siddha, unani"
	}
	return ""
}

// Translate handles POST /mapping.
func (h *Handler) Translate(c echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", "invalid request body"))
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", msg))
	}

	result, err := h.svc.Translate(c.Request().Context(), req.Code, req.System)
	if err != nil {
		switch {
		case errors.Is(err, sourcecode.ErrNotFound):
			return c.JSON(http.StatusNotFound, errorBody(c, "not_found",
				"source code "+req.Code+" not found in system "+req.System))
		case c.Request().Context().Err() != nil:
			// The timeout middleware has already answered with 504.
			return err
		default:
			h.logger.Error().Err(err).Str("code", req.Code).Msg("translate failed")
			return c.JSON(http.StatusInternalServerError, errorBody(c, "internal", "translation failed"))
		}
	}

	return c.JSON(http.StatusOK, result)
}

// List handles GET /mapping.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := Filter{
		System:      sourcecode.NormalizeSystem(c.QueryParam("system")),
		Equivalence: c.QueryParam("equivalence"),
		Status:      c.QueryParam("status"),
		Search:      c.QueryParam("search"),
		SortBy:      c.QueryParam("sort"),
		SortDesc:    c.QueryParam("order") != "asc",
	}
	if v := c.QueryParam("min_confidence"); v != "" {
		f.MinConfidence, _ = strconv.ParseFloat(v, 64)
	}
	if v := c.QueryParam("max_confidence"); v != "" {
		f.MaxConfidence, _ = strconv.ParseFloat(v, 64)
	}

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", err.Error()))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// Stats handles GET /mapping/stats.
func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(c, "internal", "stats aggregation failed"))
	}
	return c.JSON(http.StatusOK, st)
}

type validateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// Validate handles PUT /mapping/:id/validate — the human review action.
func (h *Handler) Validate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", "invalid mapping id"))
	}

	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", "invalid request body"))
	}

	m, err := h.svc.Validate(c.Request().Context(), id, req.Status, middleware.Actor(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(c, "not_found", "mapping not found"))
		}
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", err.Error()))
	}
	return c.JSON(http.StatusOK, m)
}

type batchRequest struct {
	Codes       []jobs.CodeRef `json:"codes"`
	SaveResults *bool          `json:"save_results,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

func (r *batchRequest) validate() string {
	if len(r.Codes) == 0 {
		return "codes must not be empty"
	}
	if len(r.Codes) > maxBatchSize {
		return "batch size exceeds the maximum of 100"
	}
	for _, ref := range r.Codes {
		if ref.Code == "" || !sourcecode.IsValidSystem(ref.System) {
			return "each entry needs a code and a system of ayurveda, siddha, or unani"
		}
	}
	return ""
}

// BatchSync handles POST /mapping/batch: existing-mapping lookups only, no
// pipeline runs.
func (h *Handler) BatchSync(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", "invalid request body"))
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", msg))
	}

	type itemResult struct {
		Code    string `json:"code"`
		System  string `json:"system"`
		Found   bool   `json:"found"`
		Mapping *View  `json:"mapping,omitempty"`
	}

	results := make([]itemResult, 0, len(req.Codes))
	matched := 0
	for _, ref := range req.Codes {
		item := itemResult{Code: ref.Code, System: sourcecode.NormalizeSystem(ref.System)}
		v, err := h.svc.LookupExisting(c.Request().Context(), ref.Code, ref.System)
		if err == nil {
			item.Found = true
			item.Mapping = v
			matched++
		} else if !errors.Is(err, ErrNotFound) {
			h.logger.Warn().Err(err).Str("code", ref.Code).Msg("batch lookup failed")
		}
		results = append(results, item)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": map[string]int{
			"total":     len(req.Codes),
			"matched":   matched,
			"unmatched": len(req.Codes) - matched,
		},
		"results": results,
	})
}

// BatchAsync handles POST /mapping/batch/async: queue admission and an
// immediate 202.
func (h *Handler) BatchAsync(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", "invalid request body"))
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, errorBody(c, "validation", msg))
	}

	save := true
	if req.SaveResults != nil {
		save = *req.SaveResults
	}

	job := h.queue.Enqueue(req.Codes, middleware.Actor(c), req.CallbackURL, save)

	perItem := h.itemDelay + 2*time.Second
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id":         job.ID,
		"status":         job.Status,
		"progress":       job.Progress,
		"estimated_time": (time.Duration(len(req.Codes)) * perItem).String(),
	})
}

// BatchStatus handles GET /mapping/batch/:id.
func (h *Handler) BatchStatus(c echo.Context) error {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody(c, "not_found", "job not found"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":       job.ID,
		"status":       job.Status,
		"progress":     job.Progress,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
	})
}

// BatchResults handles GET /mapping/batch/:id/results; pending items are
// visible with their current status.
func (h *Handler) BatchResults(c echo.Context) error {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody(c, "not_found", "job not found"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"items":    job.Items,
	})
}

// BatchCancel handles DELETE /mapping/batch/:id.
func (h *Handler) BatchCancel(c echo.Context) error {
	job, err := h.queue.Cancel(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody(c, "not_found", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
	})
}
