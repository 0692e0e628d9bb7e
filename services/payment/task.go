package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"marinedesk-portal/services/license"
)

// TaskLicenseActivate carries a successful payment into the license bridge.
// Delivery is at-least-once; the bridge's payment-id idempotency absorbs
// redelivered tasks.
const TaskLicenseActivate = "payment:license:activate"

type LicenseActivatePayload struct {
	PaymentID        string           `json:"payment_id"`
	OrganizationID   string           `json:"organization_id"`
	OrganizationType string           `json:"organization_type"`
	PeriodEnd        time.Time        `json:"period_end"`
	UsageLimits      map[string]int64 `json:"usage_limits"`
	Pricing          json.RawMessage  `json:"pricing,omitempty"`
}

func NewLicenseActivateTask(p LicenseActivatePayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskLicenseActivate, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Queue("payments"))
}

// Handler consumes payment tasks on the worker.
type Handler struct {
	bridge *license.Bridge
}

type HandlerParams struct {
	fx.In
	Bridge *license.Bridge
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{bridge: p.Bridge}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskLicenseActivate, h.HandleLicenseActivate)
}

func (h *Handler) HandleLicenseActivate(ctx context.Context, t *asynq.Task) error {
	var p LicenseActivatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("malformed license activate payload", zap.Error(err))
		// Retrying cannot fix a malformed payload.
		return nil
	}

	limits := make(license.UsageMap, len(p.UsageLimits))
	for k, v := range p.UsageLimits {
		kind := license.ResourceKind(k)
		if !kind.Valid() {
			zap.L().Warn("ignoring unknown resource kind in plan limits",
				zap.String("kind", k),
				zap.String("payment_id", p.PaymentID),
			)
			continue
		}
		limits[kind] = v
	}

	_, err := h.bridge.ActivateOrRenew(ctx, license.ActivateOrRenewParams{
		PaymentID:        p.PaymentID,
		OrganizationID:   p.OrganizationID,
		OrganizationType: p.OrganizationType,
		PeriodEnd:        p.PeriodEnd,
		UsageLimits:      limits,
		Pricing:          datatypes.JSON(p.Pricing),
	})
	return err
}
