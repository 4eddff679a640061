package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/goodjob-alarm/internal/middleware"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/repository"
	"github.com/shinyyama/goodjob-alarm/internal/service"
)

type NotificationHandler struct {
	svc service.NotificationService
}

func NewNotificationHandler(svc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type TargetResponse struct {
	TargetID  uint64  `json:"targetId"`
	Rank      int     `json:"rank"`
	ClickedAt *string `json:"clickedAt,omitempty"`
}

type NotificationResponse struct {
	ID                 uint64                 `json:"id"`
	RecipientID        uint64                 `json:"recipientId"`
	Kind               string                 `json:"kind"`
	DedupeKey          string                 `json:"dedupeKey"`
	Text               string                 `json:"text"`
	Read               bool                   `json:"read"`
	ReadAt             *string                `json:"readAt,omitempty"`
	Status             string                 `json:"status"`
	SentAt             string                 `json:"sentAt"`
	TitleCode          string                 `json:"titleCode,omitempty"`
	Params             map[string]interface{} `json:"params,omitempty"`
	ContextEntityID    *uint64                `json:"contextEntityId,omitempty"`
	ContextEntityLabel string                 `json:"contextEntityLabel,omitempty"`
	Targets            []TargetResponse       `json:"targets"`
	CreatedAt          string                 `json:"createdAt"`
}

type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Total         int64                  `json:"total"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toNotificationResponse(d service.NotificationDetail) NotificationResponse {
	n := d.Notification
	targets := make([]TargetResponse, 0, len(d.Targets))
	for _, t := range d.Targets {
		targets = append(targets, TargetResponse{TargetID: t.TargetID, Rank: t.Rank, ClickedAt: formatTime(t.ClickedAt)})
	}
	return NotificationResponse{
		ID:                 n.ID,
		RecipientID:        n.RecipientID,
		Kind:               string(n.Kind),
		DedupeKey:          n.DedupeKey,
		Text:               n.Text,
		Read:               n.Read,
		ReadAt:             formatTime(n.ReadAt),
		Status:             string(n.Status),
		SentAt:             n.SentAt.Format(time.RFC3339),
		TitleCode:          n.TitleCode,
		Params:             n.Params,
		ContextEntityID:    n.ContextEntityID,
		ContextEntityLabel: n.ContextEntityLabel,
		Targets:            targets,
		CreatedAt:          n.CreatedAt.Format(time.RFC3339),
	}
}

func toListResponse(list []service.NotificationDetail, total int64) NotificationListResponse {
	resp := NotificationListResponse{
		Notifications: make([]NotificationResponse, 0, len(list)),
		Total:         total,
	}
	for _, d := range list {
		resp.Notifications = append(resp.Notifications, toNotificationResponse(d))
	}
	return resp
}

// parseListQuery reads unread_only, kind, limit and offset. Bad paging values fall back to defaults.
func parseListQuery(c echo.Context) (service.ListQuery, error) {
	q := service.ListQuery{UnreadOnly: c.QueryParam("unread_only") == "true"}
	if k := c.QueryParam("kind"); k != "" {
		q.Kind = model.Kind(k)
		if !q.Kind.Valid() {
			return q, &service.ValidationError{Field: "kind", Message: "unknown kind"}
		}
	}
	q.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	q.Offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return q, nil
}

func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.ValidationError{Field: name, Message: "invalid id"}
	}
	return id, nil
}

// writeError maps service errors onto the error envelope.
func writeError(c echo.Context, err error, what string) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, NewErrorResponse(codeBadRequest, verr.Error()))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse(codeNotFound, what+" not found"))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse(codeForbidden, "not allowed"))
	case errors.Is(err, service.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, NewErrorResponse(codeConflict, err.Error()))
	case errors.Is(err, repository.ErrDBNotReady):
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse(codeUnavailable, "database not ready"))
	}
	c.Logger().Errorf("%s: %v", what, err)
	return c.JSON(http.StatusInternalServerError, NewErrorResponse(codeInternal, "failed to process "+what))
}

func actor(c echo.Context) service.Actor {
	return service.Actor{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c)}
}

func (h *NotificationHandler) List(c echo.Context) error {
	q, err := parseListQuery(c)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	q.RecipientID = middleware.UserID(c)
	list, total, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	return c.JSON(http.StatusOK, toListResponse(list, total))
}

func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	n, err := h.svc.CountUnread(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, err, "unread count")
	}
	return c.JSON(http.StatusOK, map[string]int64{"unreadCount": n})
}

func (h *NotificationHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	d, err := h.svc.Get(c.Request().Context(), actor(c), id)
	if err != nil {
		return writeError(c, err, "notification")
	}
	return c.JSON(http.StatusOK, toNotificationResponse(*d))
}

func (h *NotificationHandler) MarkRead(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	if err := h.svc.MarkRead(c.Request().Context(), actor(c), id); err != nil {
		return writeError(c, err, "notification")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	n, err := h.svc.MarkAllRead(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, err, "notifications")
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (h *NotificationHandler) ClickTarget(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	targetID, err := parseID(c, "targetId")
	if err != nil {
		return writeError(c, err, "target")
	}
	if err := h.svc.ClickTarget(c.Request().Context(), actor(c), id, targetID); err != nil {
		return writeError(c, err, "target")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NotificationHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	if err := h.svc.Delete(c.Request().Context(), actor(c), id); err != nil {
		return writeError(c, err, "notification")
	}
	return c.NoContent(http.StatusNoContent)
}
