package callqueue

import (
	"github.com/smallbiznis/warmline/internal/callqueue/repository"
	"github.com/smallbiznis/warmline/internal/callqueue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("callqueue.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
