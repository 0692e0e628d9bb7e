package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/config"
	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/pkg/health"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewLicenseHandler,
		NewPaymentHandler,
		NewVesselHandler,
		NewRouter,
	),
)

type RouterParams struct {
	fx.In
	Config  *config.Config
	Health  health.HealthService
	License *LicenseHandler
	Payment *PaymentHandler
	Vessel  *VesselHandler
}

// NewRouter assembles the portal API surface. It is provided as a plain
// http.Handler so the server module stays transport-agnostic.
func NewRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health/liveness", p.Health.Liveness)
	r.GET("/health/readiness", p.Health.Readiness)

	v1 := r.Group("/v1")
	{
		orgs := v1.Group("/organizations/:org_id")
		{
			orgs.GET("/license", p.License.GetEffectiveLicense)

			orgs.POST("/vessels", p.Vessel.Create)
			orgs.GET("/vessels", p.Vessel.List)
			orgs.GET("/vessels/:vessel_id", p.Vessel.Get)
			orgs.DELETE("/vessels/:vessel_id", p.Vessel.Delete)
		}

		payments := v1.Group("/payments")
		{
			payments.POST("/events", p.Payment.HandleEvent)
			payments.POST("/manual-approvals", p.Payment.ApproveManual)
			payments.GET("/:payment_id", p.Payment.Get)
		}
	}

	return r
}

func abortWithError(c *gin.Context, err error) {
	status, body := errutil.ToHTTP(err)
	c.AbortWithStatusJSON(status, body)
}
