package targetcode

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
	g.GET("/target", h.Autocomplete)
}

type autocompleteItem struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
}

func (h *Handler) Autocomplete(c echo.Context) error {
	q := c.QueryParam("q")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	items, err := h.svc.Autocomplete(c.Request().Context(), q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out := make([]autocompleteItem, 0, len(items))
	for _, tc := range items {
		item := autocompleteItem{Code: tc.Code, Title: tc.Title}
		if tc.Category != nil {
			item.Category = *tc.Category
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": out,
		"count":   len(out),
	})
}
