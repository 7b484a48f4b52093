package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
)

type assignPropertiesRequest struct {
	PropertyIDs []string `json:"property_ids"`
}

func (s *Server) CreateProcessorAccount(c *gin.Context) {
	var req processordomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) ListProcessorAccounts(c *gin.Context) {
	includeDeleted, err := parseOptionalBool(c.Query("include_deleted"))
	if err != nil {
		AbortWithError(c, newValidationError("include_deleted", "invalid_include_deleted", "invalid include_deleted"))
		return
	}

	accounts, err := s.accounts.List(c.Request.Context(), processordomain.ListRequest{IncludeDeleted: includeDeleted})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if accounts == nil {
		accounts = []processordomain.Account{}
	}

	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (s *Server) GetProcessorAccount(c *gin.Context) {
	account, err := s.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) RotateProcessorCredentials(c *gin.Context) {
	var req processordomain.RotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.RotateCredentials(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) ActivateProcessorAccount(c *gin.Context) {
	s.setProcessorAccountActive(c, true)
}

func (s *Server) DeactivateProcessorAccount(c *gin.Context) {
	s.setProcessorAccountActive(c, false)
}

func (s *Server) setProcessorAccountActive(c *gin.Context, active bool) {
	account, err := s.accounts.SetActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) RegisterProcessorWebhook(c *gin.Context) {
	account, err := s.accounts.RegisterWebhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) SetDefaultProcessorAccount(c *gin.Context) {
	account, err := s.accounts.SetDefault(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) AssignProcessorProperties(c *gin.Context) {
	var req assignPropertiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.AssignProperties(c.Request.Context(), c.Param("id"), req.PropertyIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) DeleteProcessorAccount(c *gin.Context) {
	if err := s.accounts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RestoreProcessorAccount(c *gin.Context) {
	account, err := s.accounts.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}
