package vessel

import "go.uber.org/fx"

var Module = fx.Module("vessel.module",
	fx.Provide(NewService),
)
