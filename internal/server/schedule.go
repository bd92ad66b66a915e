package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
)

type createScheduleRequest struct {
	ProjectID          string `json:"project_id"`
	ClientID           string `json:"client_id"`
	ServiceDescription string `json:"service_description"`
	BillingMethod      string `json:"billing_method"`
	BillingValue       int64  `json:"billing_value"`
	Frequency          string `json:"frequency"`
	FirstBillDate      string `json:"first_bill_date"`
	AutoApprove        bool   `json:"auto_approve"`
	MaxOccurrences     *int   `json:"max_occurrences"`
	EndDate            string `json:"end_date"`
}

func (s *Server) CreateSchedule(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	projectID, err := snowflake.ParseString(strings.TrimSpace(req.ProjectID))
	if err != nil {
		AbortWithError(c, billingscheduledomain.ErrInvalidSchedule)
		return
	}
	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, billingscheduledomain.ErrInvalidSchedule)
		return
	}
	firstBillDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.FirstBillDate))
	if err != nil {
		AbortWithError(c, billingscheduledomain.ErrInvalidSchedule)
		return
	}
	var endDate *time.Time
	if raw := strings.TrimSpace(req.EndDate); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, billingscheduledomain.ErrInvalidSchedule)
			return
		}
		endDate = &parsed
	}

	resp, err := s.scheduleSvc.CreateSchedule(c.Request.Context(), billingscheduledomain.CreateScheduleRequest{
		OrgID:              orgID,
		ProjectID:          projectID,
		ClientID:           clientID,
		ServiceDescription: strings.TrimSpace(req.ServiceDescription),
		BillingMethod:      billingscheduledomain.BillingMethod(req.BillingMethod),
		BillingValue:       req.BillingValue,
		Frequency:          billingscheduledomain.Frequency(req.Frequency),
		FirstBillDate:      firstBillDate,
		AutoApprove:        req.AutoApprove,
		MaxOccurrences:     req.MaxOccurrences,
		EndDate:            endDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSchedules(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.scheduleSvc.ListSchedules(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSchedule(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	scheduleID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.scheduleSvc.GetSchedule(c.Request.Context(), orgID, scheduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateSchedule(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	scheduleID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.scheduleSvc.DeactivateSchedule(c.Request.Context(), orgID, scheduleID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"active": false}})
}

// RunDueSchedules triggers one billing pass immediately instead of waiting for
// the runner interval. The pass is the same idempotent RunDue the runner uses.
func (s *Server) RunDueSchedules(c *gin.Context) {
	results, err := s.scheduleSvc.RunDue(c.Request.Context(), s.clock.Now())
	if err != nil && len(results) == 0 {
		AbortWithError(c, err)
		return
	}

	payload := gin.H{"data": results}
	if err != nil {
		payload["partial_error"] = err.Error()
	}
	c.JSON(http.StatusOK, payload)
}
