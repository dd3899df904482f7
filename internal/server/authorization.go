package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/registrar/internal/authorization"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	subject := subjectFromContext(c)
	if subject == "" {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}

	err := s.authzSvc.Authorize(c.Request.Context(), subject, roleFromContext(c), strings.TrimSpace(object), strings.TrimSpace(action))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return ErrForbidden
	case errors.Is(err, authorization.ErrInvalidActor):
		return ErrUnauthorized
	default:
		return err
	}
}
