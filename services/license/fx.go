package license

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/config"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewStore,
		NewManager,
		NewEnforcer,
		NewBridge,
		provideCache,
	),
)

type cacheParams struct {
	fx.In
	Redis  *redis.Client `optional:"true"`
	Config *config.Config
}

func provideCache(p cacheParams) *Cache {
	if p.Redis == nil {
		return nil
	}
	return NewCache(p.Redis, p.Config.License.CacheTTL)
}
