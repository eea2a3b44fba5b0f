package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"remindd/internal/notifier"
	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

type reminderRequest struct {
	Event       reminder.Event `json:"event"`
	PhoneNumber string         `json:"phoneNumber"`
}

type scheduleResponse struct {
	Scheduled    bool   `json:"scheduled"`
	ReminderTime string `json:"reminderTime,omitempty"`
	Error        string `json:"error,omitempty"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h *handlers) scheduleReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Event.ID) == "" {
		respondError(c, http.StatusBadRequest, "event.id is required")
		return
	}
	phone, err := notifier.NormalizePhone(req.PhoneNumber)
	if err != nil {
		respondError(c, http.StatusBadRequest, "phoneNumber must be an international number like +15550001234")
		return
	}
	at, err := reminder.ReminderTime(req.Event, h.deps.Location)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	resp := scheduleResponse{ReminderTime: at.UTC().Format(reminder.TimestampLayout)}
	if !h.deps.Scheduler.Schedule(req.Event, phone) {
		resp.Error = "reminder time has already passed"
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	resp.Scheduled = true
	c.JSON(http.StatusCreated, resp)
}

func (h *handlers) listReminders(c *gin.Context) {
	all := h.deps.Scheduler.Snapshot()
	eventID := strings.TrimSpace(c.Query("eventId"))
	out := make([]reminder.Stored, 0, len(all))
	for _, r := range all {
		if eventID != "" && r.EventID != eventID {
			continue
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"reminders": out, "count": len(out)})
}

// sendReminder delivers one reminder right away. Any failure is a 500 with a
// fixed message so callers can treat the endpoint as a plain SMS relay.
func (h *handlers) sendReminder(c *gin.Context) {
	fail := func(err error) {
		h.log.Warn("relay send failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to send SMS"})
	}
	if h.deps.Notifier == nil {
		fail(errors.New("no notifier configured"))
		return
	}
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(err)
		return
	}
	req.Event.Date = req.Event.Date.In(h.deps.Location)
	rc, err := h.deps.Notifier.SendReminder(c.Request.Context(), req.Event, req.PhoneNumber)
	if err != nil {
		fail(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": rc.MessageID})
}
