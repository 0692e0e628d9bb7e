package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/services/license"
)

type LicenseHandler struct {
	manager *license.Manager
}

type LicenseHandlerParams struct {
	fx.In
	Manager *license.Manager
}

func NewLicenseHandler(p LicenseHandlerParams) *LicenseHandler {
	return &LicenseHandler{manager: p.Manager}
}

// GetEffectiveLicense reports the current entitlement state for an
// organization: status, limits, usage and remaining headroom per kind.
func (h *LicenseHandler) GetEffectiveLicense(c *gin.Context) {
	orgID := c.Param("org_id")

	view, err := h.manager.GetEffectiveLicense(c.Request.Context(), orgID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if view == nil {
		abortWithError(c, errutil.NotFound("no license found for organization", nil))
		return
	}

	c.JSON(http.StatusOK, view)
}
