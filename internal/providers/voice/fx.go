package voice

import (
	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/providers/voice/domain"
	"github.com/smallbiznis/warmline/internal/providers/voice/vapi"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.voice",
	fx.Provide(func(cfg *config.Config) domain.CallProvider {
		return vapi.New(cfg)
	}),
)
