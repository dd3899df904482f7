package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether an admin actor may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, subject string, role string, object string, action string) error
}
