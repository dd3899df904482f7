package registration

import (
	"github.com/smallbiznis/registrar/internal/registration/repository"
	"github.com/smallbiznis/registrar/internal/registration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
