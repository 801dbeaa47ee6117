package http

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// UserHeader 携带当前用户 id 的请求头（认证由上游网关完成）
const UserHeader = "X-User-ID"

// MutualFinder 共同连接查询
type MutualFinder interface {
	MutualConnections(ctx context.Context, a, b string, limit int) ([]string, error)
}

// Handler handles HTTP API requests
type Handler struct {
	logger   *slog.Logger
	sessions *connection.Registry
	mutual   MutualFinder
}

// NewHandler creates a new HTTP handler. mutual may be nil when the graph projection is disabled.
func NewHandler(sessions *connection.Registry, mutual MutualFinder) *Handler {
	return &Handler{
		logger:   log.Logger("http.handler"),
		sessions: sessions,
		mutual:   mutual,
	}
}

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      any         `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind domain.Kind `json:"error_kind,omitempty"`
}

// SendRequest is the body of POST /api/v1/connections
type SendRequest struct {
	RecipientID string `json:"recipient_id"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r route.IRoutes) {
	// Health check
	r.GET("/health", h.Health)
	r.GET("/api/v1/health", h.Health)

	// Connection operations
	r.GET("/api/v1/connections", h.List)
	r.GET("/api/v1/connections/status/:other_id", h.Status)
	r.POST("/api/v1/connections", h.Send)
	r.POST("/api/v1/connections/reload", h.Reload)
	r.POST("/api/v1/connections/:id/accept", h.respond(domain.ActionAccept))
	r.POST("/api/v1/connections/:id/reject", h.respond(domain.ActionReject))
	r.DELETE("/api/v1/connections/:id", h.Cancel)

	r.GET("/api/v1/notifications", h.Notifications)
	r.GET("/api/v1/users/:id/mutual/:other_id", h.Mutual)
}

// session 按请求头挂载当前用户的会话
func (h *Handler) session(ctx context.Context, c *app.RequestContext) (*connection.Session, bool) {
	userID := strings.TrimSpace(string(c.GetHeader(UserHeader)))
	if userID == "" {
		h.writeError(c, domain.NewError(domain.KindInvalidInput, UserHeader+" header is required"))
		return nil, false
	}

	s, err := h.sessions.Get(ctx, userID)
	if err != nil {
		h.logger.Error("mount session failed", "user_id", userID, "error", err)
		h.writeError(c, domain.Unavailable(err, "mount session"))
		return nil, false
	}
	return s, true
}

// List handles GET /api/v1/connections
func (h *Handler) List(ctx context.Context, c *app.RequestContext) {
	s, ok := h.session(ctx, c)
	if !ok {
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: s.Snapshot()})
}

// Status handles GET /api/v1/connections/status/:other_id
func (h *Handler) Status(ctx context.Context, c *app.RequestContext) {
	s, ok := h.session(ctx, c)
	if !ok {
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: s.Status(c.Param("other_id"))})
}

// Send handles POST /api/v1/connections
func (h *Handler) Send(ctx context.Context, c *app.RequestContext) {
	var req SendRequest
	if err := c.BindJSON(&req); err != nil {
		h.writeError(c, domain.NewError(domain.KindInvalidInput, "invalid request body: "+err.Error()))
		return
	}

	s, ok := h.session(ctx, c)
	if !ok {
		return
	}

	view, err := s.SendRequest(ctx, strings.TrimSpace(req.RecipientID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeJSON(c, consts.StatusCreated, Response{Success: true, Data: view})
}

// respond handles POST /api/v1/connections/:id/{accept,reject}
func (h *Handler) respond(action domain.Action) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		s, ok := h.session(ctx, c)
		if !ok {
			return
		}

		conn, err := s.Respond(ctx, c.Param("id"), action)
		if err != nil {
			h.writeError(c, err)
			return
		}
		h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: conn})
	}
}

// Cancel handles DELETE /api/v1/connections/:id
func (h *Handler) Cancel(ctx context.Context, c *app.RequestContext) {
	s, ok := h.session(ctx, c)
	if !ok {
		return
	}

	conn, err := s.Cancel(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: conn})
}

// Reload handles POST /api/v1/connections/reload
func (h *Handler) Reload(ctx context.Context, c *app.RequestContext) {
	s, ok := h.session(ctx, c)
	if !ok {
		return
	}

	if err := s.Reload(ctx); err != nil {
		h.writeError(c, err)
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: s.Snapshot()})
}

// Notifications handles GET /api/v1/notifications
func (h *Handler) Notifications(ctx context.Context, c *app.RequestContext) {
	s, ok := h.session(ctx, c)
	if !ok {
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data: map[string]any{
			"notifications": s.Notifications(),
			"reconnecting":  s.Reconnecting(),
		},
	})
}

// Mutual handles GET /api/v1/users/:id/mutual/:other_id
func (h *Handler) Mutual(ctx context.Context, c *app.RequestContext) {
	if h.mutual == nil {
		h.writeError(c, domain.NewError(domain.KindBackendUnavailable, "graph projection is disabled"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	ids, err := h.mutual.MutualConnections(ctx, c.Param("id"), c.Param("other_id"), limit)
	if err != nil {
		h.logger.Error("mutual connections failed", "error", err)
		h.writeError(c, domain.Unavailable(err, "query mutual connections"))
		return
	}
	h.writeJSON(c, consts.StatusOK, Response{Success: true, Data: map[string]any{"user_ids": ids}})
}

// Health handles GET /health
func (h *Handler) Health(_ context.Context, c *app.RequestContext) {
	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    map[string]any{"status": "ok", "sessions": h.sessions.Len()},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(c *app.RequestContext, status int, data any) {
	c.JSON(status, data)
}

// writeError maps the error kind to a status code
func (h *Handler) writeError(c *app.RequestContext, err error) {
	kind := domain.KindOf(err)
	h.writeJSON(c, statusFor(kind), Response{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return consts.StatusBadRequest
	case domain.KindNotAuthorized:
		return consts.StatusForbidden
	case domain.KindNotFound:
		return consts.StatusNotFound
	case domain.KindAlreadyPending, domain.KindAlreadyConnected, domain.KindInvalidState:
		return consts.StatusConflict
	default:
		return consts.StatusServiceUnavailable
	}
}
