package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/auditlog"
	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
	"github.com/ayurbridge/terminology-api/internal/platform/cache"
	"github.com/ayurbridge/terminology-api/internal/platform/middleware"
	"github.com/ayurbridge/terminology-api/pkg/pagination"
)

// Handler serves the /admin surface: cache and rate-limit introspection,
// audit queries, and embedding management.
type Handler struct {
	caches    *cache.Layer
	limiters  *middleware.Registry
	audits    *auditlog.Service
	generator *Generator
	sources   *sourcecode.Service
	targets   *targetcode.Service
	indexer   targetcode.TargetCodeRepository
	logger    zerolog.Logger
}

func NewHandler(caches *cache.Layer, limiters *middleware.Registry, audits *auditlog.Service,
	generator *Generator, sources *sourcecode.Service, targets *targetcode.Service,
	indexer targetcode.TargetCodeRepository, logger zerolog.Logger) *Handler {
	return &Handler{
		caches:    caches,
		limiters:  limiters,
		audits:    audits,
		generator: generator,
		sources:   sources,
		targets:   targets,
		indexer:   indexer,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/admin", mw...)

	g.GET("/cache/stats", h.CacheStats)
	g.POST("/cache/clear", h.CacheClear)
	g.GET("/ratelimit/stats", h.RateLimitStats)
	g.GET("/audit", h.AuditList)
	g.GET("/embeddings/stats", h.EmbeddingStats)
	g.POST("/embeddings/init", h.EmbeddingInit)
	g.POST("/embeddings/generate", h.EmbeddingGenerate)
}

func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"caches": h.caches.StatsAll(),
	})
}

func (h *Handler) CacheClear(c echo.Context) error {
	name := c.QueryParam("cache")
	all := h.caches.All()

	if name == "" {
		for _, cc := range all {
			cc.Clear()
		}
		return c.JSON(http.StatusOK, map[string]string{"cleared": "all"})
	}

	cc, ok := all[name]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown cache "+name)
	}
	cc.Clear()
	return c.JSON(http.StatusOK, map[string]string{"cleared": name})
}

func (h *Handler) RateLimitStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"classes": h.limiters.Stats(),
	})
}

func (h *Handler) AuditList(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := auditlog.Filter{
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
		Actor:        c.QueryParam("actor"),
	}
	if v := c.QueryParam("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &ts
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &ts
		}
	}

	items, total, err := h.audits.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audit query failed")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) EmbeddingStats(c echo.Context) error {
	srcCov, err := h.sources.EmbeddingCoverage(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "source coverage query failed")
	}
	tgtCov, err := h.targets.EmbeddingCoverage(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "target coverage query failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"source": srcCov,
		"target": tgtCov,
	})
}

func (h *Handler) EmbeddingInit(c echo.Context) error {
	if err := h.indexer.EnsureVectorIndexes(c.Request().Context()); err != nil {
		h.logger.Error().Err(err).Msg("vector index creation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "vector index creation failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "indexes ready"})
}

func (h *Handler) EmbeddingGenerate(c echo.Context) error {
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = "target"
	}
	batch, _ := strconv.Atoi(c.QueryParam("batch"))

	updated, err := h.generator.Generate(c.Request().Context(), kind, batch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"kind":    kind,
		"updated": updated,
	})
}
