package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
)

type createRuleRequest struct {
	Name          string                          `json:"name"`
	RuleType      string                          `json:"rule_type"`
	TriggerType   string                          `json:"trigger_type"`
	TriggerValue  int                             `json:"trigger_value"`
	ActionType    string                          `json:"action_type"`
	ActionConfig  automationdomain.ActionConfig   `json:"action_config"`
	Conditions    automationdomain.RuleConditions `json:"conditions"`
	Priority      int                             `json:"priority"`
	MaxExecutions *int                            `json:"max_executions"`
	CooldownHours int                             `json:"cooldown_hours"`
}

func (s *Server) CreateRule(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ruleAdmin.CreateRule(c.Request.Context(), automationdomain.CreateRuleRequest{
		OrgID:         orgID,
		Name:          strings.TrimSpace(req.Name),
		RuleType:      automationdomain.RuleType(req.RuleType),
		TriggerType:   automationdomain.TriggerType(req.TriggerType),
		TriggerValue:  req.TriggerValue,
		ActionType:    automationdomain.ActionType(req.ActionType),
		ActionConfig:  req.ActionConfig,
		Conditions:    req.Conditions,
		Priority:      req.Priority,
		MaxExecutions: req.MaxExecutions,
		CooldownHours: req.CooldownHours,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRules(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ruleAdmin.ListRules(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EnableRule(c *gin.Context) {
	s.setRuleEnabled(c, true)
}

func (s *Server) DisableRule(c *gin.Context) {
	s.setRuleEnabled(c, false)
}

func (s *Server) setRuleEnabled(c *gin.Context, enabled bool) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ruleID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.ruleAdmin.SetRuleEnabled(c.Request.Context(), orgID, ruleID, enabled); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"enabled": enabled}})
}

// EvaluateRules runs one evaluation-and-dispatch pass on demand, outside the
// runner cadence. Useful after creating a rule to see what it would do.
func (s *Server) EvaluateRules(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	fired, err := s.evaluator.Evaluate(ctx, orgID, s.clock.Now())
	if err != nil && len(fired) == 0 {
		AbortWithError(c, err)
		return
	}

	logs := make([]*automationdomain.AutomationLog, 0, len(fired))
	for _, hit := range fired {
		entry, dispatchErr := s.dispatcher.Dispatch(ctx, hit)
		if dispatchErr != nil {
			AbortWithError(c, dispatchErr)
			return
		}
		logs = append(logs, entry)
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"fired": len(fired),
		"logs":  logs,
	}})
}

func (s *Server) ListPendingLogs(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ruleAdmin.ListPendingLogs(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApproveLog(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	logID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		ApproverID string `json:"approver_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ApproverID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.dispatcher.Approve(c.Request.Context(), orgID, logID, strings.TrimSpace(req.ApproverID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RejectLog(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	logID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.dispatcher.Reject(c.Request.Context(), orgID, logID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkLogSent(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	logID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.dispatcher.MarkSent(c.Request.Context(), orgID, logID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
