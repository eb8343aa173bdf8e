package rounding

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rounding/internal/platform/auth"
	"github.com/ehr/rounding/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Clinical staff – admin, physician, nurse
	group := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	group.GET("/rounding-templates", h.ListTemplates)
	group.GET("/rounding-templates/:id", h.GetTemplate)
	group.POST("/rounding-templates", h.CreateTemplate)
	group.POST("/rounding-templates/preview", h.PreviewTemplate)
	group.PUT("/rounding-templates/:id", h.UpdateTemplate)
	group.POST("/rounding-templates/:id/clone", h.CloneTemplate)

	group.GET("/rounding-sheets", h.ListSheets)
	group.GET("/rounding-sheets/:id", h.GetSheet)
	group.POST("/rounding-sheets", h.CreateSheet)
	group.PATCH("/rounding-sheets/:id", h.UpdateSheet)
	group.DELETE("/rounding-sheets/:id", h.DeleteSheet)
	group.POST("/rounding-sheets/:id/complete", h.CompleteSheet)
	group.POST("/rounding-sheets/:id/patients", h.AddPatients)
	group.PUT("/rounding-sheets/:id/patients/:index/entries/:fieldId", h.UpdateEntry)
	group.POST("/rounding-sheets/:id/patients/:index/autopopulate", h.AutoPopulate)
	group.GET("/rounding-sheets/:id/progress", h.GetProgress)
	group.GET("/rounding-sheets/:id/export", h.ExportSheet)
	group.POST("/rounding-sheets/:id/export-jobs", h.EnqueueExport)

	// Template deletion – admin, physician
	adminGroup := api.Group("", auth.RequireRole(auth.RolePhysician))
	adminGroup.DELETE("/rounding-templates/:id", h.DeleteTemplate)
}

type templateRequest struct {
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description"`
	Sections    []SectionDefinition `json:"sections"`
	IsShared    bool                `json:"is_shared"`
	Specialty   *string             `json:"specialty"`
	Tags        []string            `json:"tags"`
}

func (r templateRequest) input() TemplateInput {
	return TemplateInput{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Sections:    r.Sections,
		IsShared:    r.IsShared,
		Specialty:   r.Specialty,
		Tags:        r.Tags,
	}
}

type createSheetRequest struct {
	TemplateID string `json:"template_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Shift      string `json:"shift" validate:"required,oneof=day evening night"`
	Unit       string `json:"unit" validate:"required"`
}

type addPatientsRequest struct {
	Patients []PatientInput `json:"patients" validate:"required,min=1,dive"`
}

type entryRequest struct {
	Value string `json:"value"`
}

// -- Templates --

func (h *Handler) CreateTemplate(c echo.Context) error {
	var req templateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return httpError(err)
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), actorFrom(c), req.input())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := TemplateFilter{
		Specialty:  c.QueryParam("specialty"),
		Tag:        c.QueryParam("tag"),
		SharedOnly: c.QueryParam("shared") == "true",
		Query:      c.QueryParam("q"),
	}
	items, total, err := h.svc.ListTemplates(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd TemplateUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name: is required")
	}
	t, err := h.svc.UpdateTemplate(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CloneTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.CloneTemplate(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// PreviewTemplate renders an unsaved template and an empty sheet without persisting either.
func (h *Handler) PreviewTemplate(c echo.Context) error {
	var req templateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tpl, sheet := NewBuilderFrom(req.input()).Preview(actorFrom(c))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"template": tpl,
		"sheet":    sheet,
	})
}

// -- Sheets --

func (h *Handler) CreateSheet(c echo.Context) error {
	var req createSheetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Unit = strings.TrimSpace(req.Unit)
	if err := validateStruct(req); err != nil {
		return httpError(err)
	}
	sheet, err := h.svc.CreateSheet(c.Request().Context(), actorFrom(c), SheetInput{
		TemplateID: uuid.MustParse(req.TemplateID),
		Date:       req.Date,
		Shift:      Shift(req.Shift),
		Unit:       req.Unit,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sheet)
}

func (h *Handler) GetSheet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sheet, err := h.svc.GetSheet(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) ListSheets(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := SheetFilter{
		Unit:   c.QueryParam("unit"),
		Date:   c.QueryParam("date"),
		Status: SheetStatus(c.QueryParam("status")),
	}
	if v := c.QueryParam("template_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid template_id")
		}
		filter.TemplateID = id
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	items, total, err := h.svc.ListSheets(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdateSheet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd SheetUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if upd.Unit != nil && strings.TrimSpace(*upd.Unit) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "unit: is required")
	}
	if upd.Date != nil {
		if err := validate.Var(*upd.Date, "datetime=2006-01-02"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date: must be a date formatted as 2006-01-02")
		}
	}
	sheet, err := h.svc.UpdateSheet(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) CompleteSheet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sheet, err := h.svc.CompleteSheet(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) DeleteSheet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteSheet(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddPatients(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req addPatientsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for i := range req.Patients {
		req.Patients[i].PatientName = strings.TrimSpace(req.Patients[i].PatientName)
	}
	if err := validateStruct(req); err != nil {
		return httpError(err)
	}
	sheet, err := h.svc.AddPatientsToSheet(c.Request().Context(), id, req.Patients)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient index")
	}
	var req entryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sheet, err := h.svc.UpdateEntry(c.Request().Context(), id, index, c.Param("fieldId"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) AutoPopulate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient index")
	}
	sheet, filled, err := h.svc.AutoPopulate(c.Request().Context(), id, index)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sheet":  sheet,
		"filled": filled,
	})
}

func (h *Handler) GetProgress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	summary, err := h.svc.SheetProgress(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ExportSheet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	format, err := ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return httpError(err)
	}
	art, err := h.svc.ExportSheet(c.Request().Context(), id, format)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", art.FileName))
	if art.BlobID != "" {
		c.Response().Header().Set("X-Blob-ID", art.BlobID)
	}
	return c.Blob(http.StatusOK, art.ContentType, art.Data)
}

func (h *Handler) EnqueueExport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	format, err := ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return httpError(err)
	}
	jobID, err := h.svc.EnqueueExport(c.Request().Context(), actorFrom(c), id, format)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"job_id":   jobID,
		"sheet_id": id.String(),
		"format":   string(format),
	})
}

func actorFrom(c echo.Context) Actor {
	a := auth.ActorFromContext(c.Request().Context())
	return Actor{ID: a.ID, Name: a.Name}
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrSheetNotFound):
		code = http.StatusNotFound
	case IsValidation(err), errors.Is(err, ErrIndexOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSheetCompleted):
		code = http.StatusConflict
	case errors.Is(err, ErrProtectedTemplate):
		code = http.StatusForbidden
	case errors.Is(err, ErrNoDataProvider), errors.Is(err, ErrExportUnavailable):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error())
}
