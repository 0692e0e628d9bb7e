package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/db/pagination"
	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/services/vessel"
)

type VesselHandler struct {
	service *vessel.Service
}

type VesselHandlerParams struct {
	fx.In
	Service *vessel.Service
}

func NewVesselHandler(p VesselHandlerParams) *VesselHandler {
	return &VesselHandler{service: p.Service}
}

type createVesselRequest struct {
	Name       string `json:"name" binding:"required"`
	IMONumber  string `json:"imo_number"`
	Flag       string `json:"flag"`
	VesselType string `json:"vessel_type"`
}

func (h *VesselHandler) Create(c *gin.Context) {
	var req createVesselRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errutil.BadRequest("invalid vessel payload", err))
		return
	}

	v, err := h.service.CreateVessel(c.Request.Context(), vessel.CreateVesselParams{
		OrganizationID: c.Param("org_id"),
		Name:           req.Name,
		IMONumber:      req.IMONumber,
		Flag:           req.Flag,
		VesselType:     req.VesselType,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

func (h *VesselHandler) Get(c *gin.Context) {
	v, err := h.service.GetVessel(c.Request.Context(), c.Param("org_id"), c.Param("vessel_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (h *VesselHandler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		abortWithError(c, errutil.BadRequest("invalid pagination parameters", err))
		return
	}

	vessels, err := h.service.ListVessels(c.Request.Context(), c.Param("org_id"), page)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"vessels": vessels})
}

func (h *VesselHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteVessel(c.Request.Context(), c.Param("org_id"), c.Param("vessel_id")); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
