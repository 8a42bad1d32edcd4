package terminology

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/platform/fhir"
)

type Handler struct {
	svc     *Service
	version string
	logger  zerolog.Logger
}

func NewHandler(svc *Service, version string, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, version: version, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, fhirMW ...echo.MiddlewareFunc) {
	g := e.Group("/fhir", fhirMW...)

	g.GET("/metadata", fhir.CapabilityHandler(h.version))
	g.GET("/CodeSystem", h.ListCodeSystems)
	g.GET("/CodeSystem/$lookup", h.Lookup)
	g.POST("/CodeSystem/$lookup", h.LookupPost)
	g.GET("/CodeSystem/:id", h.GetCodeSystem)
	g.GET("/ConceptMap/$translate", h.Translate)
	g.POST("/ConceptMap/$translate", h.TranslatePost)
	g.GET("/ValueSet/$expand", h.Expand)
}

// ListCodeSystems handles GET /fhir/CodeSystem — a searchset Bundle of the
// four systems this server knows.
func (h *Handler) ListCodeSystems(c echo.Context) error {
	infos, err := h.svc.CodeSystems(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("code system listing failed"))
	}

	entries := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, map[string]interface{}{
			"resource": codeSystemResource(info),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(entries),
		"entry":        entries,
	})
}

// GetCodeSystem handles GET /fhir/CodeSystem/:id.
func (h *Handler) GetCodeSystem(c echo.Context) error {
	id := c.Param("id")
	infos, err := h.svc.CodeSystems(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("code system lookup failed"))
	}
	for _, info := range infos {
		if info.ID == id {
			return c.JSON(http.StatusOK, codeSystemResource(info))
		}
	}
	return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("CodeSystem", id))
}

func codeSystemResource(info CodeSystemInfo) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "CodeSystem",
		"id":           info.ID,
		"url":          info.URI,
		"name":         info.Name,
		"status":       "active",
		"content":      "complete",
		"count":        info.Count,
	}
}

// Lookup handles GET /fhir/CodeSystem/$lookup.
func (h *Handler) Lookup(c echo.Context) error {
	return h.doLookup(c, c.QueryParam("system"), c.QueryParam("code"))
}

// LookupPost handles POST /fhir/CodeSystem/$lookup with a Parameters body.
func (h *Handler) LookupPost(c echo.Context) error {
	params, err := bindParameters(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.Outcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error()))
	}
	return h.doLookup(c, params["system"], params["code"])
}

func (h *Handler) doLookup(c echo.Context, system, code string) error {
	if code == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredOutcome("code"))
	}
	if system == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredOutcome("system"))
	}

	result, err := h.svc.Lookup(c.Request().Context(), system, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound,
				fhir.Outcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, "code "+code+" not found"))
		}
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, result)
}

// Translate handles GET /fhir/ConceptMap/$translate.
func (h *Handler) Translate(c echo.Context) error {
	return h.doTranslate(c, c.QueryParam("code"), c.QueryParam("system"))
}

// TranslatePost handles POST /fhir/ConceptMap/$translate with a Parameters
// body.
func (h *Handler) TranslatePost(c echo.Context) error {
	params, err := bindParameters(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.Outcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error()))
	}
	return h.doTranslate(c, params["code"], params["system"])
}

func (h *Handler) doTranslate(c echo.Context, code, system string) error {
	if code == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredOutcome("code"))
	}
	if system == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredOutcome("system"))
	}

	result, err := h.svc.Translate(c.Request().Context(), code, system)
	if err != nil {
		switch {
		case errors.Is(err, sourcecode.ErrNotFound):
			return c.JSON(http.StatusNotFound,
				fhir.Outcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, "code "+code+" not found"))
		case c.Request().Context().Err() != nil:
			return err
		default:
			h.logger.Error().Err(err).Str("code", code).Msg("fhir translate failed")
			return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
		}
	}
	return c.JSON(http.StatusOK, result)
}

// Expand handles GET /fhir/ValueSet/$expand.
func (h *Handler) Expand(c echo.Context) error {
	count, _ := strconv.Atoi(c.QueryParam("count"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	result, err := h.svc.Expand(c.Request().Context(), c.QueryParam("filter"), c.QueryParam("system"), count, offset)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	contains := make([]map[string]interface{}, 0, len(result.Contains))
	for _, e := range result.Contains {
		contains = append(contains, map[string]interface{}{
			"system":  e.System,
			"code":    e.Code,
			"display": e.Display,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "ValueSet",
		"expansion": map[string]interface{}{
			"total":    result.Total,
			"offset":   result.Offset,
			"contains": contains,
		},
	})
}

func bindParameters(c echo.Context) (map[string]string, error) {
	var p fhir.Parameters
	if err := c.Bind(&p); err != nil {
		return nil, err
	}
	return fhir.ParseParameters(&p), nil
}
