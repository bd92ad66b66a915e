package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
)

type recordPromiseRequest struct {
	InvoiceID      string `json:"invoice_id"`
	ClientID       string `json:"client_id"`
	PromisedAmount int64  `json:"promised_amount"`
	PromisedDate   string `json:"promised_date"`
	CaptureSource  string `json:"capture_source"`
}

func (s *Server) RecordPromise(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req recordPromiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		AbortWithError(c, promisedomain.ErrInvalidPromise)
		return
	}
	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, promisedomain.ErrInvalidPromise)
		return
	}
	promisedDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PromisedDate))
	if err != nil {
		AbortWithError(c, promisedomain.ErrInvalidPromise)
		return
	}

	resp, err := s.promiseSvc.RecordPromise(c.Request.Context(), promisedomain.RecordPromiseRequest{
		OrgID:          orgID,
		InvoiceID:      invoiceID,
		ClientID:       clientID,
		PromisedAmount: req.PromisedAmount,
		PromisedDate:   promisedDate,
		CaptureSource:  strings.TrimSpace(req.CaptureSource),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPromises(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status := promisedomain.PromiseStatus(strings.TrimSpace(c.Query("status")))
	resp, err := s.promiseSvc.ListPromises(c.Request.Context(), orgID, status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPromise(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	promiseID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.promiseSvc.GetPromise(c.Request.Context(), orgID, promiseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReconcilePromise(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	promiseID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		ActualPaymentDate string `json:"actual_payment_date"`
		ActualAmount      int64  `json:"actual_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	actualDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ActualPaymentDate))
	if err != nil {
		AbortWithError(c, promisedomain.ErrInvalidPromise)
		return
	}

	resp, err := s.promiseSvc.Reconcile(c.Request.Context(), orgID, promiseID, actualDate, req.ActualAmount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReschedulePromise(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	promiseID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		PromisedDate string `json:"promised_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	newDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PromisedDate))
	if err != nil {
		AbortWithError(c, promisedomain.ErrInvalidPromise)
		return
	}

	resp, err := s.promiseSvc.Reschedule(c.Request.Context(), orgID, promiseID, newDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
