package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
)

// userIDFrom reads the authenticated user set by the identity middleware.
// A header fallback keeps handler tests and internal callers simple.
func userIDFrom(c *gin.Context) (snowflake.ID, error) {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(snowflake.ID); ok && id > 0 {
			return id, nil
		}
	}
	raw := strings.TrimSpace(c.GetHeader("X-User-Id"))
	if raw == "" {
		return 0, newValidationError("user_id", "required", "authenticated user is required")
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, newValidationError("user_id", "invalid", "user id must be a positive integer")
	}
	return snowflake.ID(parsed), nil
}

func appIDFrom(c *gin.Context) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, newValidationError("id", "invalid", "app id must be a positive integer")
	}
	return snowflake.ID(parsed), nil
}

func (s *Server) DeployApp(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.deploy.DeployApp(c.Request.Context(), appID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"url":           result.URL,
		"archive_url":   result.ArchiveURL,
		"deployment_id": result.DeploymentID,
		"version":       result.Version.String(),
	}})
}

type updateAppRequest struct {
	Code        appdomain.CodeSnapshot `json:"code"`
	Description string                 `json:"description"`
}

func (s *Server) UpdateApp(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Code.IsEmpty() {
		AbortWithError(c, newValidationError("code", "required", "code snapshot is required"))
		return
	}

	result, err := s.deploy.UpdateApp(c.Request.Context(), appID, userID, req.Code, strings.TrimSpace(req.Description))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"version":       result.Version.String(),
		"url":           result.URL,
		"deployment_id": result.DeploymentID,
	}})
}

type rollbackAppRequest struct {
	Version string `json:"version"`
}

func (s *Server) RollbackApp(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rollbackAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target, err := appdomain.ParseVersionLabel(req.Version)
	if err != nil {
		AbortWithError(c, newValidationError("version", "invalid", "version must look like v1.2"))
		return
	}

	result, err := s.deploy.RollbackApp(c.Request.Context(), appID, userID, target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"version": result.Version.String(),
		"url":     result.URL,
	}})
}

type suspendAppRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) SuspendApp(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req suspendAppRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Suspended by request"
	}

	result, err := s.deploy.SuspendApp(c.Request.Context(), appID, userID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"message": result.Message}})
}

func (s *Server) ReactivateApp(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.deploy.ReactivateApp(c.Request.Context(), appID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": result.URL}})
}

func (s *Server) GetDeployment(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.deploy.GetDeploymentStatus(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) ListDeploymentLogs(c *gin.Context) {
	appID, err := appIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid", "limit must be a non-negative integer"))
			return
		}
	}

	entries, err := s.logs.ListForApp(c.Request.Context(), appID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
