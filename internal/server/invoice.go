package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
)

type createInvoiceRequest struct {
	OrganizationID string                          `json:"organization_id"`
	ProjectID      string                          `json:"project_id"`
	Description    string                          `json:"description"`
	LineItems      []invoicedomain.LineItemRequest `json:"line_items"`
	Tax            int64                           `json:"tax"`
	DueDate        *time.Time                      `json:"due_date"`
	AutoSend       bool                            `json:"auto_send"`
	Kind           string                          `json:"kind"`
}

type quoteInvoiceRequest struct {
	OrganizationID string     `json:"organization_id"`
	ProjectID      string     `json:"project_id"`
	Features       []string   `json:"features"`
	IncludeMonthly bool       `json:"include_monthly"`
	DueDate        *time.Time `json:"due_date"`
	AutoSend       bool       `json:"auto_send"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, projectID, err := parseInvoiceSubject(req.OrganizationID, req.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		OrgID:       orgID,
		ProjectID:   projectID,
		Description: strings.TrimSpace(req.Description),
		LineItems:   req.LineItems,
		Tax:         req.Tax,
		DueDate:     req.DueDate,
		AutoSend:    req.AutoSend,
		Kind:        invoicedomain.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CreateInvoiceFromQuote(c *gin.Context) {
	var req quoteInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, projectID, err := parseInvoiceSubject(req.OrganizationID, req.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.CreateFromQuote(c.Request.Context(), invoicedomain.QuoteInvoiceRequest{
		OrgID:          orgID,
		ProjectID:      projectID,
		Features:       req.Features,
		IncludeMonthly: req.IncludeMonthly,
		DueDate:        req.DueDate,
		AutoSend:       req.AutoSend,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetInvoice(c *gin.Context) {
	s.invoiceAction(c, s.invoiceSvc.Get)
}

func (s *Server) SendInvoice(c *gin.Context) {
	s.invoiceAction(c, s.invoiceSvc.Send)
}

func (s *Server) VoidInvoice(c *gin.Context) {
	s.invoiceAction(c, s.invoiceSvc.Void)
}

func (s *Server) MarkInvoiceUncollectible(c *gin.Context) {
	s.invoiceAction(c, s.invoiceSvc.MarkUncollectible)
}

func (s *Server) RenderInvoiceHTML(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	html, err := s.invoiceSvc.RenderHTML(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) ListOrganizationInvoices(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	items, err := s.invoiceSvc.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []invoicedomain.Invoice{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) invoiceAction(c *gin.Context, action func(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error)) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	resp, err := action(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseInvoiceSubject(rawOrg, rawProject string) (snowflake.ID, *snowflake.ID, error) {
	orgID, err := organizationdomain.ParseID(strings.TrimSpace(rawOrg))
	if err != nil {
		return 0, nil, newValidationError("organization_id", "invalid_organization_id", "invalid organization_id")
	}
	rawProject = strings.TrimSpace(rawProject)
	if rawProject == "" {
		return orgID, nil, nil
	}
	projectID, err := snowflake.ParseString(rawProject)
	if err != nil || projectID <= 0 {
		return 0, nil, newValidationError("project_id", "invalid_project_id", "invalid project_id")
	}
	return orgID, &projectID, nil
}
