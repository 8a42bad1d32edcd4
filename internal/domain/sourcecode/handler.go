package sourcecode

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, searchMW ...echo.MiddlewareFunc) {
	g := e.Group("/autocomplete", searchMW...)
	g.GET("/source", h.Autocomplete)
}

type autocompleteItem struct {
	Code        string `json:"code"`
	System      string `json:"system"`
	Term        string `json:"term"`
	EnglishName string `json:"english_name,omitempty"`
}

func (h *Handler) Autocomplete(c echo.Context) error {
	q := c.QueryParam("q")
	system := c.QueryParam("system")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	items, err := h.svc.Autocomplete(c.Request().Context(), q, system, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out := make([]autocompleteItem, 0, len(items))
	for _, sc := range items {
		item := autocompleteItem{Code: sc.Code, System: sc.System, Term: sc.Term}
		if sc.EnglishName != nil {
			item.EnglishName = *sc.EnglishName
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": out,
		"count":   len(out),
	})
}
