package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	registrationservice "github.com/smallbiznis/registrar/internal/registration/service"
)

type changeCategoryRequest struct {
	NewCategoryID string `json:"new_category_id"`
}

func (s *Server) ChangeRegistrationCategory(c *gin.Context) {
	registrationID, ok := pathSnowflakeID(c)
	if !ok {
		return
	}

	var req changeCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	categoryID, err := parseOptionalSnowflakeID(req.NewCategoryID)
	if err != nil || categoryID == nil {
		AbortWithError(c, newValidationError("new_category_id", "invalid_new_category_id", "invalid new_category_id"))
		return
	}

	tenant, err := s.resolveTenant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.registrationSvc.ChangeCategory(c.Request.Context(), tenant.ID, registrationservice.ChangeCategoryRequest{
		RegistrationID: registrationID,
		NewCategoryID:  *categoryID,
		RequestedBy:    subjectFromContext(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
