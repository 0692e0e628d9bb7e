package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"marinedesk-portal/pkg/errutil"
)

// Bridge adapts payment-success notifications into lifecycle transitions.
// Payment delivery is at-least-once, so the bridge keys every mutation on
// the payment id: a notification that already produced a license mutation
// is absorbed as a no-op returning the existing record.
type Bridge struct {
	store   *Store
	manager *Manager
}

type BridgeParams struct {
	fx.In
	Store   *Store
	Manager *Manager
}

func NewBridge(p BridgeParams) *Bridge {
	return &Bridge{
		store:   p.Store,
		manager: p.Manager,
	}
}

type ActivateOrRenewParams struct {
	PaymentID        string
	OrganizationID   string
	OrganizationType string
	PeriodEnd        time.Time
	UsageLimits      UsageMap
	Pricing          datatypes.JSON
}

// ActivateOrRenew issues a license on the first qualifying payment and
// renews on later ones. Each application is recorded in the payment history
// alongside the mutation, so a redelivered payment resolves as
// already-applied even after later renewals.
func (b *Bridge) ActivateOrRenew(ctx context.Context, p ActivateOrRenewParams) (*License, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("payment_id", p.PaymentID),
		zap.String("organization_id", p.OrganizationID),
	)

	if p.PaymentID == "" || p.OrganizationID == "" {
		return nil, errutil.BadRequest("payment_id and organization_id are required", nil)
	}

	existing, err := b.store.GetByPaymentID(ctx, p.PaymentID)
	if err != nil {
		zapLog.Error("failed idempotency lookup", zap.Error(err))
		return nil, err
	}
	if existing != nil {
		zapLog.Info("duplicate payment notification absorbed",
			zap.String("license_id", existing.ID),
		)
		return existing, nil
	}

	lic, status, err := b.manager.effectiveRecord(ctx, p.OrganizationID)
	if err != nil {
		zapLog.Error("failed to resolve current license", zap.Error(err))
		return nil, err
	}

	if lic == nil {
		return b.manager.Activate(ctx, ActivateParams{
			OrganizationID:   p.OrganizationID,
			OrganizationType: p.OrganizationType,
			PeriodEnd:        p.PeriodEnd,
			UsageLimits:      p.UsageLimits,
			Pricing:          p.Pricing,
			PaymentID:        p.PaymentID,
		})
	}

	zapLog.Info("renewing existing license",
		zap.String("license_id", lic.ID),
		zap.String("effective_status", string(status)),
	)
	return b.manager.Renew(ctx, RenewParams{
		OrganizationID: p.OrganizationID,
		PeriodEnd:      p.PeriodEnd,
		UsageLimits:    p.UsageLimits,
		Pricing:        p.Pricing,
		PaymentID:      p.PaymentID,
	})
}
