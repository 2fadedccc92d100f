package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	quotedomain "github.com/smallbiznis/atelier/internal/quote/domain"
)

type createQuoteRequest struct {
	Features       []string `json:"features"`
	OrganizationID string   `json:"organization_id"`
}

// CreateQuote prices a feature selection. With an organization id the quote
// is also stored as that organization's latest draft.
func (s *Server) CreateQuote(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quoteReq := quotedomain.QuoteRequest{Features: req.Features}
	if raw := strings.TrimSpace(req.OrganizationID); raw != "" {
		orgID, err := organizationdomain.ParseID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("organization_id", "invalid_organization_id", "invalid organization_id"))
			return
		}
		quoteReq.SubjectType = quotedomain.SubjectOrganization
		quoteReq.SubjectID = orgID
	}

	resp, err := s.quoteSvc.Quote(c.Request.Context(), quoteReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetLatestQuote(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	record, err := s.quoteSvc.Latest(c.Request.Context(), quotedomain.SubjectOrganization, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}
