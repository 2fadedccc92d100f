package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	Features  []string `json:"features"`
	TrialDays *int     `json:"trial_days"`
}

type changeFeaturesRequest struct {
	Features []string `json:"features"`
}

type cancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		OrgID:     orgID,
		Features:  req.Features,
		TrialDays: req.TrialDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	resp, err := s.subscriptionSvc.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChangeSubscriptionFeatures(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req changeFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.ChangeFeatures(c.Request.Context(), orgID, req.Features)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CancelSubscription cancels at period end unless the body asks for an
// immediate cancel. An empty body is accepted.
func (s *Server) CancelSubscription(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), orgID, req.Immediate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Reactivate)
}

func (s *Server) PauseSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Pause)
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Resume)
}

func (s *Server) subscriptionAction(c *gin.Context, action func(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.BillingState, error)) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	resp, err := action(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
