package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/link"
)

type issuePaymentRequest struct {
	PropertyID    string          `json:"property_id"`
	SpotID        string          `json:"spot_id"`
	PaymentType   string          `json:"payment_type"`
	Amount        decimal.Decimal `json:"amount"`
	LateFeeAmount decimal.Decimal `json:"late_fee_amount"`
	DueDate       string          `json:"due_date"`
	Description   string          `json:"description"`
}

func (s *Server) GetRentDue(c *gin.Context) {
	asOf, err := parseOptionalTime(c.Query("as_of"), false)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}
	var ref time.Time
	if asOf != nil {
		ref = *asOf
	}

	quote, err := s.rentDue.Quote(c.Request.Context(), tenantIDFrom(c), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) IssueRentPayment(c *gin.Context) {
	issued, err := s.links.IssueRent(c.Request.Context(), tenantIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": issued})
}

func (s *Server) IssuePayment(c *gin.Context) {
	var req issuePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	propertyID, err := parseSnowflakeID(req.PropertyID)
	if err != nil {
		AbortWithError(c, newValidationError("property_id", "invalid_property_id", "invalid property_id"))
		return
	}
	var spotID *snowflake.ID
	if strings.TrimSpace(req.SpotID) != "" {
		parsed, err := parseSnowflakeID(req.SpotID)
		if err != nil {
			AbortWithError(c, newValidationError("spot_id", "invalid_spot_id", "invalid spot_id"))
			return
		}
		spotID = &parsed
	}
	dueDate, err := parseOptionalTime(req.DueDate, false)
	if err != nil || dueDate == nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due_date"))
		return
	}

	issued, err := s.links.Issue(c.Request.Context(), link.Request{
		TenantID:      tenantIDFrom(c),
		PropertyID:    propertyID,
		SpotID:        spotID,
		PaymentType:   paymentdomain.PaymentType(strings.ToUpper(strings.TrimSpace(req.PaymentType))),
		Amount:        req.Amount,
		LateFeeAmount: req.LateFeeAmount,
		DueDate:       *dueDate,
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": issued})
}

func (s *Server) ListTenantPayments(c *gin.Context) {
	paymentType := paymentdomain.PaymentType(strings.ToUpper(strings.TrimSpace(c.Query("payment_type"))))
	if paymentType != "" && !paymentType.Valid() {
		AbortWithError(c, newValidationError("payment_type", "invalid_payment_type", "invalid payment_type"))
		return
	}

	records, err := s.payments.ListHistory(c.Request.Context(), tenantIDFrom(c), paymentType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if records == nil {
		records = []paymentdomain.PaymentRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) GetRentSummary(c *gin.Context) {
	summary, err := s.summaries.Get(c.Request.Context(), tenantIDFrom(c).String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
