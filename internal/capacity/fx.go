package capacity

import (
	"github.com/smallbiznis/warmline/internal/capacity/repository"
	"github.com/smallbiznis/warmline/internal/capacity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("capacity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
