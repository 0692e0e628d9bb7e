package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"marinedesk-portal/pkg/config"
)

// Manager owns license state transitions and the effective-status view.
//
// Expiry is never written by a sweep: effective status is a pure function of
// (stored status, expiresAt, now) computed on every read, so a license flips
// to expired the instant the clock passes expiresAt with zero writes. The
// stored status column is only corrected on the next write (renewal or an
// administrative action).
type Manager struct {
	store *Store
	cache *Cache
	group singleflight.Group

	// defaultPeriod is the subscription length applied when a payment
	// carries no period end.
	defaultPeriod time.Duration

	// now is swappable so expiry behaviour can be tested without sleeping.
	now func() time.Time
}

type ManagerParams struct {
	fx.In
	Store  *Store
	Cache  *Cache         `optional:"true"`
	Config *config.Config `optional:"true"`
}

func NewManager(p ManagerParams) *Manager {
	var defaultPeriod time.Duration
	if p.Config != nil {
		defaultPeriod = p.Config.License.DefaultPeriod
	}
	return &Manager{
		store:         p.Store,
		cache:         p.Cache,
		defaultPeriod: defaultPeriod,
		now:           time.Now,
	}
}

func (m *Manager) defaultExpiry(from time.Time) time.Time {
	if m.defaultPeriod > 0 {
		return from.Add(m.defaultPeriod)
	}
	return from.AddDate(1, 0, 0)
}

// EffectiveStatus computes the license's validity at the given instant.
// Suspended and revoked are administrative states and win over expiry.
func EffectiveStatus(stored LicenseStatus, expiresAt time.Time, now time.Time) LicenseStatus {
	switch stored {
	case StatusSuspended, StatusRevoked:
		return stored
	case StatusActive:
		if !now.After(expiresAt) {
			return StatusActive
		}
		return StatusExpired
	default:
		return StatusExpired
	}
}

// GetEffectiveLicense is the sole read API for license state outside the
// core. It never exposes the raw stored record, so no caller can re-derive
// expiry from stale fields. Returns nil when the organization never held a
// license. Display reads may be served from the cache; the quota enforcer
// does not come through here for its conditional update.
func (m *Manager) GetEffectiveLicense(ctx context.Context, orgID string) (*EffectiveLicense, error) {
	if m.cache != nil {
		if eff, ok := m.cache.Get(ctx, orgID); ok {
			// Effective status still must be recomputed: a cached entry can
			// outlive the expiry instant.
			eff.Status = EffectiveStatus(eff.Status, eff.ExpiresAt, m.now())
			return eff, nil
		}
	}

	v, err, _ := m.group.Do(orgID, func() (interface{}, error) {
		lic, err := m.store.GetRecord(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if lic == nil {
			return (*EffectiveLicense)(nil), nil
		}
		return m.effectiveView(lic), nil
	})
	if err != nil {
		return nil, err
	}

	eff := v.(*EffectiveLicense)
	if eff != nil && m.cache != nil {
		m.cache.Set(ctx, orgID, eff)
	}
	return eff, nil
}

func (m *Manager) effectiveView(lic *License) *EffectiveLicense {
	limits := lic.UsageLimits()
	usage := lic.CurrentUsage()

	for kind, limit := range limits {
		if limit > 0 && usage[kind] > limit {
			// Should be unreachable given the conditional update; clamp and
			// keep serving rather than failing the read.
			zap.L().Warn("data integrity: usage above limit, clamping",
				zap.String("organization_id", lic.OrganizationID),
				zap.String("kind", string(kind)),
				zap.Int64("limit", limit),
				zap.Int64("used", usage[kind]),
			)
			usage[kind] = limit
		}
	}

	return &EffectiveLicense{
		LicenseID:        lic.ID,
		OrganizationID:   lic.OrganizationID,
		OrganizationType: lic.OrganizationType,
		LicenseKey:       lic.LicenseKey,
		Status:           EffectiveStatus(lic.Status, lic.ExpiresAt, m.now()),
		IssuedAt:         lic.IssuedAt,
		ExpiresAt:        lic.ExpiresAt,
		UsageLimits:      limits,
		CurrentUsage:     usage,
	}
}

// effectiveRecord resolves the stored record plus its computed status for
// the enforcer and the bridge. Always hits the store; never the cache.
func (m *Manager) effectiveRecord(ctx context.Context, orgID string) (*License, LicenseStatus, error) {
	lic, err := m.store.GetRecord(ctx, orgID)
	if err != nil {
		return nil, "", err
	}
	if lic == nil {
		return nil, "", nil
	}
	return lic, EffectiveStatus(lic.Status, lic.ExpiresAt, m.now()), nil
}

type ActivateParams struct {
	OrganizationID   string
	OrganizationType string
	PeriodEnd        time.Time
	UsageLimits      UsageMap
	Pricing          datatypes.JSON
	PaymentID        string
}

// Activate performs the none -> active transition: a fresh license with all
// usage at zero. A zero PeriodEnd defaults to one year from issuance.
func (m *Manager) Activate(ctx context.Context, p ActivateParams) (*License, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", p.OrganizationID),
	)

	issuedAt := m.now()
	expiresAt := p.PeriodEnd
	if expiresAt.IsZero() {
		expiresAt = m.defaultExpiry(issuedAt)
	}

	lic, err := m.store.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID:   p.OrganizationID,
		OrganizationType: p.OrganizationType,
		IssuedAt:         issuedAt,
		ExpiresAt:        expiresAt,
		UsageLimits:      p.UsageLimits,
		Pricing:          p.Pricing,
		PaymentID:        p.PaymentID,
	})
	if err != nil {
		zapLog.Error("failed to activate license", zap.Error(err))
		return nil, err
	}

	m.invalidate(ctx, p.OrganizationID)
	zapLog.Info("license activated",
		zap.String("license_id", lic.ID),
		zap.String("license_key", lic.LicenseKey),
		zap.Time("expires_at", lic.ExpiresAt),
	)
	return lic, nil
}

type RenewParams struct {
	OrganizationID string
	PeriodEnd      time.Time
	UsageLimits    UsageMap
	Pricing        datatypes.JSON
	PaymentID      string
}

// Renew performs active -> active (also allowed once expired): expiry moves
// to the new period end and limits are max-merged. Usage counters survive
// renewal untouched.
func (m *Manager) Renew(ctx context.Context, p RenewParams) (*License, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", p.OrganizationID),
	)

	expiresAt := p.PeriodEnd
	if expiresAt.IsZero() {
		expiresAt = m.defaultExpiry(m.now())
	}

	lic, err := m.store.ExtendLicense(ctx, ExtendLicenseParams{
		OrganizationID: p.OrganizationID,
		NewExpiresAt:   expiresAt,
		NewUsageLimits: p.UsageLimits,
		Pricing:        p.Pricing,
		PaymentID:      p.PaymentID,
	})
	if err != nil {
		zapLog.Error("failed to renew license", zap.Error(err))
		return nil, err
	}

	m.invalidate(ctx, p.OrganizationID)
	zapLog.Info("license renewed",
		zap.String("license_id", lic.ID),
		zap.Time("expires_at", lic.ExpiresAt),
	)
	return lic, nil
}

func (m *Manager) invalidate(ctx context.Context, orgID string) {
	if m.cache != nil {
		m.cache.Invalidate(ctx, orgID)
	}
}
