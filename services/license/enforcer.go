package license

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"marinedesk-portal/pkg/errutil"
)

var quotaDenials = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "license_quota_denials_total"},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(quotaDenials)
}

// UnlimitedRemaining is reported as Remaining for kinds whose limit is the
// unlimited sentinel.
const UnlimitedRemaining int64 = -1

// Reservation is the outcome of a TryReserve call.
type Reservation struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
}

// Enforcer is the only path by which current usage changes. Resource CRUD
// handlers call TryReserve before inserting and Release after deleting or
// when an insert fails mid-flight.
type Enforcer struct {
	store   *Store
	manager *Manager
}

type EnforcerParams struct {
	fx.In
	Store   *Store
	Manager *Manager
}

func NewEnforcer(p EnforcerParams) *Enforcer {
	return &Enforcer{
		store:   p.Store,
		manager: p.Manager,
	}
}

// TryReserve atomically claims amount units of kind for the organization.
// A denial returns Allowed=false together with a typed error
// (QuotaExceededError or NoEffectiveLicenseError) carrying the counts the
// operator needs; callers must treat a denial as a hard stop, never an
// automatic retry. Storage failures fail closed: no error path ever permits
// an ungated creation.
func (e *Enforcer) TryReserve(ctx context.Context, orgID string, kind ResourceKind, amount int64) (*Reservation, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", orgID),
		zap.String("kind", string(kind)),
	)

	if !kind.Valid() {
		return &Reservation{Allowed: false, Remaining: 0}, errutil.BadRequest("unknown resource kind", nil)
	}
	if amount <= 0 {
		return &Reservation{Allowed: false, Remaining: 0}, errutil.BadRequest("reserve amount must be positive", nil)
	}

	lic, status, err := e.manager.effectiveRecord(ctx, orgID)
	if err != nil {
		zapLog.Error("failed to resolve effective license", zap.Error(err))
		return &Reservation{Allowed: false, Remaining: 0}, errutil.Unavailable("license lookup failed", err)
	}
	if lic == nil || status != StatusActive {
		quotaDenials.WithLabelValues(string(kind)).Inc()
		return &Reservation{Allowed: false, Remaining: 0}, NoEffectiveLicenseError{OrganizationID: orgID}
	}

	update, err := e.store.UpdateUsage(ctx, lic.ID, kind, amount)
	if err != nil {
		zapLog.Error("failed conditional usage update", zap.Error(err))
		return &Reservation{Allowed: false, Remaining: 0}, errutil.Unavailable("usage update failed", err)
	}

	if !update.Applied {
		quotaDenials.WithLabelValues(string(kind)).Inc()
		zapLog.Info("quota reservation denied",
			zap.Int64("limit", update.Limit),
			zap.Int64("used", update.Used),
		)
		return &Reservation{Allowed: false, Remaining: remaining(update)}, QuotaExceededError{
			Kind:    kind,
			Limit:   update.Limit,
			Current: update.Used,
		}
	}

	return &Reservation{Allowed: true, Remaining: remaining(update)}, nil
}

// Release returns amount units of kind, floored at zero. It deliberately
// resolves the latest record rather than the effective one: deleting a
// resource after the license expired still reclaims its slot. Over-release
// is clamped and logged as a data-integrity warning, never surfaced as an
// error.
func (e *Enforcer) Release(ctx context.Context, orgID string, kind ResourceKind, amount int64) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", orgID),
		zap.String("kind", string(kind)),
	)

	if !kind.Valid() {
		return errutil.BadRequest("unknown resource kind", nil)
	}
	if amount <= 0 {
		return errutil.BadRequest("release amount must be positive", nil)
	}

	lic, err := e.store.GetRecord(ctx, orgID)
	if err != nil {
		zapLog.Error("failed to resolve license for release", zap.Error(err))
		return errutil.Unavailable("license lookup failed", err)
	}
	if lic == nil {
		zapLog.Warn("data integrity: release for organization without license")
		return nil
	}

	update, err := e.store.UpdateUsage(ctx, lic.ID, kind, -amount)
	if err != nil {
		zapLog.Error("failed usage release", zap.Error(err))
		return errutil.Unavailable("usage update failed", err)
	}

	if !update.Applied {
		zapLog.Warn("data integrity: release would have gone negative, clamped at zero",
			zap.Int64("amount", amount),
			zap.Int64("used", update.Used),
		)
	}

	return nil
}

func remaining(u *UsageUpdate) int64 {
	if u.Limit == 0 {
		return UnlimitedRemaining
	}
	r := u.Limit - u.Used
	if r < 0 {
		return 0
	}
	return r
}
