// Package http отдает сцену и монитор через JSON API.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/service"
)

// SceneService - часть service.StageService, которую используют обработчики.
type SceneService interface {
	Settings() config.Settings
	UpdateSettings(ctx context.Context, next config.Settings) (config.Settings, error)
	Characters(ctx context.Context) []domain.Character
	StartScene(ctx context.Context, req service.StartSceneRequest) (service.SceneInfo, error)
	StopScene(id string) (service.SceneInfo, error)
	GetScene(id string) (service.SceneInfo, error)
	ListScenes() []service.SceneInfo
	SubmitHumanLine(id, text string) error
}

// MonitorService - часть monitor.Monitor, которую используют обработчики.
type MonitorService interface {
	History() []monitor.SessionSummary
	ActiveSessions() []monitor.SessionStatistics
	GetInsights(lastN int) *monitor.Insights
	Export(w io.Writer) error
	Import(r io.Reader) error
	Clear()
	Persist(ctx context.Context) error
}

var _ SceneService = (*service.StageService)(nil)
var _ MonitorService = (*monitor.Monitor)(nil)

// ErrorResponse - тело любого ответа с кодом не 2xx.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type humanLineRequest struct {
	Text string `json:"text" binding:"required"`
}

// Handler обслуживает REST API.
type Handler struct {
	stage   SceneService
	monitor MonitorService
	logger  *zap.Logger
}

func NewHandler(stage SceneService, mon MonitorService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		stage:   stage,
		monitor: mon,
		logger:  logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует API под /api.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/characters", h.listCharacters)

		api.POST("/scenes", h.startScene)
		api.GET("/scenes", h.listScenes)
		api.GET("/scenes/:id", h.getScene)
		api.POST("/scenes/:id/stop", h.stopScene)
		api.POST("/scenes/:id/lines", h.submitLine)

		api.GET("/settings", h.getSettings)
		api.PUT("/settings", h.updateSettings)

		api.GET("/monitor/history", h.getHistory)
		api.GET("/monitor/active", h.getActive)
		api.GET("/monitor/insights", h.getInsights)
		api.GET("/monitor/export", h.exportHistory)
		api.POST("/monitor/import", h.importHistory)
		api.DELETE("/monitor/history", h.clearHistory)
	}
}

func (h *Handler) listCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, h.stage.Characters(c.Request.Context()))
}

func (h *Handler) startScene(c *gin.Context) {
	var req service.StartSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for startScene", zap.Error(err))
		h.abortWithError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	info, err := h.stage.StartScene(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, info)
}

func (h *Handler) listScenes(c *gin.Context) {
	c.JSON(http.StatusOK, h.stage.ListScenes())
}

func (h *Handler) getScene(c *gin.Context) {
	info, err := h.stage.GetScene(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) stopScene(c *gin.Context) {
	info, err := h.stage.StopScene(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, info)
}

func (h *Handler) submitLine(c *gin.Context) {
	var req humanLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	if err := h.stage.SubmitHumanLine(c.Param("id"), req.Text); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.stage.Settings())
}

func (h *Handler) updateSettings(c *gin.Context) {
	var next config.Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		h.abortWithError(c, http.StatusBadRequest, "bad_request", "invalid settings body")
		return
	}
	applied, err := h.stage.UpdateSettings(c.Request.Context(), next)
	if err != nil && !errors.Is(err, domain.ErrPersistence) {
		h.handleServiceError(c, err)
		return
	}
	if err != nil {
		// применены, но не сохранены
		c.Header("X-Settings-Persisted", "false")
	}
	c.JSON(http.StatusOK, applied)
}

func (h *Handler) getHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.History())
}

func (h *Handler) getActive(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.ActiveSessions())
}

func (h *Handler) getInsights(c *gin.Context) {
	lastN := 0
	if raw := c.Query("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.abortWithError(c, http.StatusBadRequest, "bad_request", "last must be a non-negative integer")
			return
		}
		lastN = n
	}
	insights := h.monitor.GetInsights(lastN)
	if insights == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, insights)
}

func (h *Handler) exportHistory(c *gin.Context) {
	name := "improv-history-" + time.Now().UTC().Format("20060102-150405") + ".json"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	if err := h.monitor.Export(c.Writer); err != nil {
		h.logger.Error("Failed to export monitor history", zap.Error(err))
	}
}

func (h *Handler) importHistory(c *gin.Context) {
	if err := h.monitor.Import(c.Request.Body); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.persist(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"sessions": len(h.monitor.History())})
}

func (h *Handler) clearHistory(c *gin.Context) {
	h.monitor.Clear()
	h.persist(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *Handler) persist(ctx context.Context) {
	if err := h.monitor.Persist(ctx); err != nil {
		h.logger.Warn("Monitor history changed but not persisted", zap.Error(err))
	}
}

func (h *Handler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSceneNotFound), errors.Is(err, domain.ErrNotFound):
		h.abortWithError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrInvalidSpeaker):
		h.abortWithError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNoActiveSession):
		h.abortWithError(c, http.StatusConflict, "invalid_state", err.Error())
	default:
		h.logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		h.abortWithError(c, http.StatusInternalServerError, "internal", "an unexpected internal error occurred")
	}
}

func (h *Handler) abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
