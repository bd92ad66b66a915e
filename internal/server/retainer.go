package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
)

type createRetainerRequest struct {
	ClientID    string `json:"client_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Actor       string `json:"actor"`
}

type retainerMovementRequest struct {
	InvoiceID   string         `json:"invoice_id"`
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
	Actor       string         `json:"actor"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) CreateRetainer(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req createRetainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, retainerdomain.ErrInvalidClient)
		return
	}

	resp, err := s.retainerSvc.CreateRetainer(c.Request.Context(), retainerdomain.CreateRetainerRequest{
		OrgID:       orgID,
		ClientID:    clientID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Actor:       strings.TrimSpace(req.Actor),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRetainer(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	retainerID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.retainerSvc.GetRetainer(c.Request.Context(), orgID, retainerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRetainerTransactions(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	retainerID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.retainerSvc.ListTransactions(c.Request.Context(), orgID, retainerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReplayRetainerBalance(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	retainerID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.retainerSvc.ReplayBalance(c.Request.Context(), orgID, retainerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DepositRetainer(c *gin.Context) {
	s.applyMovement(c, s.retainerSvc.Deposit)
}

func (s *Server) DrawRetainer(c *gin.Context) {
	s.applyMovement(c, s.retainerSvc.Draw)
}

func (s *Server) RefundRetainer(c *gin.Context) {
	s.applyMovement(c, s.retainerSvc.Refund)
}

func (s *Server) AdjustRetainer(c *gin.Context) {
	s.applyMovement(c, s.retainerSvc.Adjust)
}

func (s *Server) applyMovement(c *gin.Context, apply func(ctx context.Context, req retainerdomain.MovementRequest) (*retainerdomain.Retainer, error)) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	retainerID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req retainerMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var invoiceID *snowflake.ID
	if raw := strings.TrimSpace(req.InvoiceID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, retainerdomain.ErrInvalidInvoice)
			return
		}
		invoiceID = &parsed
	}

	resp, err := apply(c.Request.Context(), retainerdomain.MovementRequest{
		OrgID:       orgID,
		RetainerID:  retainerID,
		InvoiceID:   invoiceID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Actor:       strings.TrimSpace(req.Actor),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelRetainer(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	retainerID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.retainerSvc.Cancel(c.Request.Context(), orgID, retainerID, strings.TrimSpace(req.Actor)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "cancelled"}})
}
