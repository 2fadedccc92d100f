package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name          string `json:"name"`
	BillingEmail  string `json:"billing_email"`
	InvoicePrefix string `json:"invoice_prefix"`
}

type updateOrganizationRequest struct {
	BillingEmail string `json:"billing_email"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.Create(c.Request.Context(), organizationdomain.CreateOrganizationRequest{
		Name:          strings.TrimSpace(req.Name),
		BillingEmail:  strings.TrimSpace(req.BillingEmail),
		InvoicePrefix: strings.TrimSpace(req.InvoicePrefix),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	resp, err := s.organizationSvc.GetByID(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateOrganization(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.UpdateBillingEmail(c.Request.Context(), orgID.String(), strings.TrimSpace(req.BillingEmail))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// orgIDParam parses the :id path segment and aborts with a validation error
// when it is not a snowflake id.
func orgIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := organizationdomain.ParseID(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func idParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
