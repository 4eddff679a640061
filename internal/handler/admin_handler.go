package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/scheduler"
	"github.com/shinyyama/goodjob-alarm/internal/service"
)

type CvLabelResolver interface {
	FindFileNameByID(ctx context.Context, cvID uint64) (string, bool, error)
}

type JobTrigger interface {
	Trigger(name string) error
	RunNow(name string) error
}

type AdminHandler struct {
	writer service.NotificationWriter
	svc    service.NotificationService
	labels CvLabelResolver
	jobs   JobTrigger
	loc    *time.Location
	now    func() time.Time
}

func NewAdminHandler(writer service.NotificationWriter, svc service.NotificationService, labels CvLabelResolver,
	jobs JobTrigger, loc *time.Location, now func() time.Time) *AdminHandler {
	if now == nil {
		now = time.Now
	}
	return &AdminHandler{writer: writer, svc: svc, labels: labels, jobs: jobs, loc: loc, now: now}
}

type TargetRequest struct {
	TargetID uint64 `json:"targetId"`
	Rank     int    `json:"rank"`
}

type CreateNotificationRequest struct {
	RecipientID uint64                 `json:"recipientId"`
	Text        string                 `json:"text"`
	Kind        string                 `json:"kind"`
	DedupeKey   string                 `json:"dedupeKey"`
	SentAt      *time.Time             `json:"sentAt"`
	TitleCode   string                 `json:"titleCode"`
	Params      map[string]interface{} `json:"params"`
	CvID        uint64                 `json:"cvId"`
	CvTitle     string                 `json:"cvTitle"`
	Targets     []TargetRequest        `json:"targets"`
}

type UpdateNotificationRequest struct {
	Text               *string                `json:"text"`
	Kind               *string                `json:"kind"`
	DedupeKey          *string                `json:"dedupeKey"`
	Status             *string                `json:"status"`
	TitleCode          *string                `json:"titleCode"`
	Params             map[string]interface{} `json:"params"`
	ContextEntityID    *uint64                `json:"contextEntityId"`
	ContextEntityLabel *string                `json:"contextEntityLabel"`
	Targets            []TargetRequest        `json:"targets"`
}

type ScoredTargetResponse struct {
	TargetID    uint64  `json:"targetId"`
	Rank        int     `json:"rank"`
	Title       string  `json:"title"`
	CompanyName string  `json:"companyName"`
	Score       float64 `json:"score"`
	ClickedAt   *string `json:"clickedAt,omitempty"`
}

type ScoredTargetListResponse struct {
	NotificationID uint64                 `json:"notificationId"`
	Jobs           []ScoredTargetResponse `json:"jobs"`
}

// queryUserID reads the mandatory user_id query parameter.
func queryUserID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.QueryParam("user_id"), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.ValidationError{Field: "user_id", Message: "must be a positive integer"}
	}
	return id, nil
}

func toTargetInputs(in []TargetRequest) []service.TargetInput {
	if in == nil {
		return nil
	}
	out := make([]service.TargetInput, 0, len(in))
	for _, t := range in {
		out = append(out, service.TargetInput{TargetID: t.TargetID, Rank: t.Rank})
	}
	return out
}

// adminDedupeKey derives the key for a manual create: one per recipient and local day,
// and per résumé for score matches.
func adminDedupeKey(kind model.Kind, recipientID, cvID uint64, day string) string {
	switch kind {
	case model.KindScoreMatch:
		if cvID != 0 {
			return fmt.Sprintf("SCORE_MATCH_TOPN:%d:%d:%s", recipientID, cvID, day)
		}
		return fmt.Sprintf("SCORE_MATCH_TOPN:%d:%s", recipientID, day)
	case model.KindDeadlineDue:
		return fmt.Sprintf("DEADLINE:%d:%s", recipientID, day)
	}
	return fmt.Sprintf("ALARM:%s:%d:%s", kind, recipientID, day)
}

// Create is the strict create: an existing dedupe key is answered with 409.
func (h *AdminHandler) Create(c echo.Context) error {
	var req CreateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(codeBadRequest, "invalid json"))
	}
	ctx := c.Request().Context()
	kind := model.Kind(req.Kind)
	sentAt := h.now()
	if req.SentAt != nil {
		sentAt = *req.SentAt
	}

	key := strings.TrimSpace(req.DedupeKey)
	if key == "" && kind.Valid() && req.RecipientID != 0 {
		key = adminDedupeKey(kind, req.RecipientID, req.CvID, sentAt.In(h.loc).Format("2006-01-02"))
	}
	label := strings.TrimSpace(req.CvTitle)
	if kind == model.KindScoreMatch && req.CvID != 0 && label == "" && h.labels != nil {
		name, ok, err := h.labels.FindFileNameByID(ctx, req.CvID)
		if err != nil {
			c.Logger().Warnf("resolve cv %d label: %v", req.CvID, err)
		} else if ok {
			label = name
		}
	}

	n, err := h.writer.CreateOrConflict(ctx, service.CreateInput{
		RecipientID:        req.RecipientID,
		Text:               req.Text,
		Kind:               kind,
		DedupeKey:          key,
		EventTime:          sentAt,
		Targets:            toTargetInputs(req.Targets),
		TitleCode:          req.TitleCode,
		Params:             req.Params,
		ContextEntityID:    req.CvID,
		ContextEntityLabel: label,
	})
	if err != nil {
		return writeError(c, err, "notification")
	}
	d, err := h.svc.Get(ctx, service.Actor{Admin: true}, n.ID)
	if err != nil {
		return writeError(c, err, "notification")
	}
	return c.JSON(http.StatusCreated, toNotificationResponse(*d))
}

// List spans every recipient unless user_id is given.
func (h *AdminHandler) List(c echo.Context) error {
	q, err := parseListQuery(c)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	if c.QueryParam("user_id") != "" {
		if q.RecipientID, err = queryUserID(c); err != nil {
			return writeError(c, err, "notifications")
		}
	}
	list, total, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	return c.JSON(http.StatusOK, toListResponse(list, total))
}

func (h *AdminHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	d, err := h.svc.Get(c.Request().Context(), service.Actor{Admin: true}, id)
	if err != nil {
		return writeError(c, err, "notification")
	}
	return c.JSON(http.StatusOK, toNotificationResponse(*d))
}

func (h *AdminHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	var req UpdateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(codeBadRequest, "invalid json"))
	}
	in := service.UpdateInput{
		Text:               req.Text,
		DedupeKey:          req.DedupeKey,
		TitleCode:          req.TitleCode,
		Params:             req.Params,
		ContextEntityID:    req.ContextEntityID,
		ContextEntityLabel: req.ContextEntityLabel,
		Targets:            toTargetInputs(req.Targets),
	}
	if req.Kind != nil {
		k := model.Kind(*req.Kind)
		in.Kind = &k
	}
	if req.Status != nil {
		s := model.Status(*req.Status)
		in.Status = &s
	}
	d, err := h.svc.Update(c.Request().Context(), service.Actor{Admin: true}, id, in)
	if err != nil {
		return writeError(c, err, "notification")
	}
	return c.JSON(http.StatusOK, toNotificationResponse(*d))
}

func (h *AdminHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	if err := h.svc.Delete(c.Request().Context(), service.Actor{Admin: true}, id); err != nil {
		return writeError(c, err, "notification")
	}
	return c.NoContent(http.StatusNoContent)
}

// Jobs lists the public jobs behind a notification in rank order, with scores for résumé matches.
func (h *AdminHandler) Jobs(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	list, err := h.svc.ListScoredTargets(c.Request().Context(), service.Actor{Admin: true}, id)
	if err != nil {
		return writeError(c, err, "notification")
	}
	resp := ScoredTargetListResponse{NotificationID: id, Jobs: make([]ScoredTargetResponse, 0, len(list))}
	for _, t := range list {
		resp.Jobs = append(resp.Jobs, ScoredTargetResponse{
			TargetID:    t.TargetID,
			Rank:        t.Rank,
			Title:       t.Title,
			CompanyName: t.CompanyName,
			Score:       t.Score,
			ClickedAt:   formatTime(t.ClickedAt),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) UnreadCount(c echo.Context) error {
	uid, err := queryUserID(c)
	if err != nil {
		return writeError(c, err, "unread count")
	}
	n, err := h.svc.CountUnread(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err, "unread count")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"userId": uid, "unreadCount": n})
}

func (h *AdminHandler) MarkRead(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err, "notification")
	}
	if err := h.svc.MarkRead(c.Request().Context(), service.Actor{Admin: true}, id); err != nil {
		return writeError(c, err, "notification")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) MarkAllRead(c echo.Context) error {
	uid, err := queryUserID(c)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err, "notifications")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"userId": uid, "updated": n})
}

// RunJob starts a job in the background. With wait=true it runs the job in the request
// and answers once it has finished.
func (h *AdminHandler) RunJob(c echo.Context) error {
	name := c.Param("name")
	wait := c.QueryParam("wait") == "true"
	var err error
	if wait {
		err = h.jobs.RunNow(name)
	} else {
		err = h.jobs.Trigger(name)
	}
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		return c.JSON(http.StatusNotFound, NewErrorResponse(codeNotFound, "unknown job "+name))
	case errors.Is(err, scheduler.ErrJobRunning):
		return c.JSON(http.StatusConflict, NewErrorResponse(codeConflict, "job "+name+" is already running"))
	case err != nil:
		return writeError(c, err, "job "+name)
	}
	if wait {
		return c.JSON(http.StatusOK, map[string]string{"job": name, "status": "completed"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}
