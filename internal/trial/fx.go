package trial

import (
	"github.com/smallbiznis/warmline/internal/trial/repository"
	"github.com/smallbiznis/warmline/internal/trial/service"
	"go.uber.org/fx"
)

var Module = fx.Module("trial.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
