package server

import (
	"net/http"

	payoutdomain "github.com/comandahub/paycore/internal/payout/domain"
	"github.com/gin-gonic/gin"
)

type executePayoutRequest struct {
	SettlementID string `json:"settlement_id"`
	Provider     string `json:"provider"`
	Method       string `json:"method"`
	Destination  string `json:"destination"`
}

func (s *Server) ExecutePayout(c *gin.Context) {
	var req executePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	settlementID, ok := optionalID(c, &req.SettlementID)
	if !ok {
		return
	}
	if settlementID == nil || req.Destination == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.payoutSvc.Execute(c.Request.Context(), payoutdomain.ExecuteCommand{
		SettlementID: *settlementID,
		Provider:     req.Provider,
		Method:       req.Method,
		Destination:  req.Destination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Success {
		s.auditOps(c, "payout.executed", "settlement", *settlementID, map[string]any{
			"provider": req.Provider,
		})
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetPayoutJob(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	job, err := s.payoutSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) ProcessPayoutQueue(c *gin.Context) {
	batchSize := queryInt(c, "batch_size", 50)
	result, err := s.payoutSvc.ProcessQueue(c.Request.Context(), batchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
