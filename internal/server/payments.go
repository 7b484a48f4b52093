package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
)

type lateFeeRequest struct {
	LateFee *decimal.Decimal `json:"late_fee"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListPayments(c *gin.Context) {
	dueFrom, err := parseOptionalTime(c.Query("due_from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("due_from", "invalid_due_from", "invalid due_from"))
		return
	}
	dueTo, err := parseOptionalTime(c.Query("due_to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("due_to", "invalid_due_to", "invalid due_to"))
		return
	}
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.payments.List(c.Request.Context(), paymentdomain.ListRequest{
		TenantID:    c.Query("tenant_id"),
		PropertyID:  c.Query("property_id"),
		Status:      paymentdomain.PaymentStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		PaymentType: paymentdomain.PaymentType(strings.ToUpper(strings.TrimSpace(c.Query("payment_type")))),
		DueFrom:     dueFrom,
		DueTo:       dueTo,
		SortBy:      paymentdomain.SortField(strings.TrimSpace(c.Query("sort_by"))),
		SortOrder:   paymentdomain.SortOrder(strings.ToLower(strings.TrimSpace(c.Query("sort_order")))),
		PageToken:   c.Query("page_token"),
		PageSize:    pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	record, err := s.payments.Get(c.Request.Context(), c.Param("receipt"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	receiptNumber := strings.TrimSpace(c.Param("receipt"))
	doc, err := s.receipts.PDF(c.Request.Context(), receiptNumber)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+receiptNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) TransitionPayment(c *gin.Context) {
	var req paymentdomain.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Status = paymentdomain.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))

	record, err := s.payments.Transition(c.Request.Context(), c.Param("receipt"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ApplyLateFee(c *gin.Context) {
	var req lateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.LateFee == nil {
		AbortWithError(c, newValidationError("late_fee", "required", "late_fee is required"))
		return
	}

	record, err := s.payments.ApplyLateFee(c.Request.Context(), c.Param("receipt"), *req.LateFee)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) RefundPayment(c *gin.Context) {
	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	record, err := s.payments.Refund(c.Request.Context(), c.Param("receipt"), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ReissuePaymentLink(c *gin.Context) {
	link, err := s.links.Reissue(c.Request.Context(), c.Param("receipt"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": link})
}
