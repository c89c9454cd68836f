package callevent

import (
	"github.com/smallbiznis/warmline/internal/callevent/repository"
	"github.com/smallbiznis/warmline/internal/callevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("callevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewRecorder),
)
