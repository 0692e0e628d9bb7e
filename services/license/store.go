package license

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marinedesk-portal/pkg/db/option"
	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/pkg/repository"
	"marinedesk-portal/pkg/sequence"
)

// maxKeyAttempts bounds the regenerate-and-retry loop on license key
// collisions before the error is surfaced as internal.
const maxKeyAttempts = 5

// Store owns durable license state. All counter mutation goes through
// UpdateUsage; nothing else writes the used column.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
	keys sequence.Generator

	quotas repository.Repository[LicenseQuota]
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Keys sequence.Generator
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:   p.DB,
		node: p.Node,
		keys: p.Keys,

		quotas: repository.ProvideStore[LicenseQuota](p.DB),
	}
}

// GetRecord returns the most recently issued or renewed license for the
// organization with its quota rows, or nil if none was ever issued.
func (s *Store) GetRecord(ctx context.Context, orgID string) (*License, error) {
	var lic License
	err := s.db.WithContext(ctx).
		Preload("Quotas").
		Where(&License{OrganizationID: orgID}).
		Order("issued_at DESC").
		First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lic, nil
}

// GetByPaymentID returns the license the given payment was ever applied to,
// or nil. This is the bridge's idempotency lookup; it consults the applied
// payment history rather than licenses.payment_id, which a later renewal
// re-points away from older payments.
func (s *Store) GetByPaymentID(ctx context.Context, paymentID string) (*License, error) {
	var applied LicensePayment
	err := s.db.WithContext(ctx).
		Where(&LicensePayment{PaymentID: paymentID}).
		First(&applied).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var lic License
	if err := s.db.WithContext(ctx).
		Preload("Quotas").
		Where("id = ?", applied.LicenseID).
		First(&lic).Error; err != nil {
		return nil, err
	}
	return &lic, nil
}

type CreateLicenseParams struct {
	OrganizationID   string
	OrganizationType string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	UsageLimits      UsageMap
	Pricing          datatypes.JSON
	PaymentID        string
}

// CreateLicense inserts a new license with zeroed usage counters. The key is
// generated here; a collision regenerates and retries up to maxKeyAttempts.
func (s *Store) CreateLicense(ctx context.Context, p CreateLicenseParams) (*License, error) {
	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := s.keys.NextLicenseKey(ctx)
		if err != nil {
			return nil, errutil.Internal("failed to generate license key", err)
		}

		lic, err := s.insertLicense(ctx, p, key)
		if err == nil {
			return lic, nil
		}

		var dup DuplicateLicenseKeyError
		if !errors.As(err, &dup) {
			return nil, err
		}

		zap.L().Warn("license key collision, regenerating",
			zap.String("license_key", dup.LicenseKey),
			zap.Int("attempt", attempt+1),
		)
		lastErr = err
	}
	return nil, errutil.Internal("exhausted license key attempts", lastErr)
}

func (s *Store) insertLicense(ctx context.Context, p CreateLicenseParams, key string) (*License, error) {
	issuedAt := p.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	lic := &License{
		ID:               s.node.Generate().String(),
		OrganizationID:   p.OrganizationID,
		OrganizationType: p.OrganizationType,
		LicenseKey:       key,
		Status:           StatusActive,
		IssuedAt:         issuedAt,
		ExpiresAt:        p.ExpiresAt,
		Pricing:          p.Pricing,
		PaymentID:        p.PaymentID,
	}

	for _, kind := range AllKinds() {
		lic.Quotas = append(lic.Quotas, LicenseQuota{
			ID:             s.node.Generate().String(),
			LicenseID:      lic.ID,
			OrganizationID: p.OrganizationID,
			Kind:           kind,
			LimitValue:     p.UsageLimits[kind],
			Used:           0,
		})
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lic).Error; err != nil {
			return err
		}
		return s.recordApplication(tx, lic, p.PaymentID)
	}); err != nil {
		if isDuplicateKey(err) {
			return nil, DuplicateLicenseKeyError{LicenseKey: key}
		}
		return nil, err
	}

	return lic, nil
}

// recordApplication marks the payment as consumed inside the same
// transaction as the mutation it produced. The unique index on payment_id
// makes a concurrent double-apply fail the transaction instead of mutating
// twice.
func (s *Store) recordApplication(tx *gorm.DB, lic *License, paymentID string) error {
	if paymentID == "" {
		return nil
	}
	return tx.Create(&LicensePayment{
		ID:             s.node.Generate().String(),
		LicenseID:      lic.ID,
		OrganizationID: lic.OrganizationID,
		PaymentID:      paymentID,
	}).Error
}

type ExtendLicenseParams struct {
	OrganizationID string
	NewExpiresAt   time.Time
	NewUsageLimits UsageMap
	Pricing        datatypes.JSON
	PaymentID      string
}

// ExtendLicense renews the organization's latest license: expiry moves
// forward, stored status returns to active, and limits are max-merged per
// kind. Usage counters are never touched by a renewal. Expiry is monotonic:
// a renewal carrying an older period end never shortens the entitlement.
func (s *Store) ExtendLicense(ctx context.Context, p ExtendLicenseParams) (*License, error) {
	var out *License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic License
		if err := tx.Scopes(option.LockingUpdate).
			Where(&License{OrganizationID: p.OrganizationID}).
			Order("issued_at DESC").
			First(&lic).Error; err != nil {
			return err
		}

		expiresAt := p.NewExpiresAt
		if lic.ExpiresAt.After(expiresAt) {
			expiresAt = lic.ExpiresAt
		}

		updates := map[string]any{
			"expires_at": expiresAt,
			"status":     StatusActive,
			"payment_id": p.PaymentID,
			"updated_at": time.Now(),
		}
		if len(p.Pricing) > 0 {
			updates["pricing"] = p.Pricing
		}
		if err := tx.Model(&License{}).Where("id = ?", lic.ID).Updates(updates).Error; err != nil {
			return err
		}

		for kind, limit := range p.NewUsageLimits {
			if !kind.Valid() {
				continue
			}
			var quota LicenseQuota
			err := tx.Scopes(option.LockingUpdate).
				Where(&LicenseQuota{LicenseID: lic.ID, Kind: kind}).
				First(&quota).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				quota = LicenseQuota{
					ID:             s.node.Generate().String(),
					LicenseID:      lic.ID,
					OrganizationID: p.OrganizationID,
					Kind:           kind,
					LimitValue:     limit,
				}
				if err := tx.Create(&quota).Error; err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			// Max-merge: a renewal may raise a limit but never lowers a
			// previously granted one mid-term.
			merged := mergeLimit(quota.LimitValue, limit)
			if merged != quota.LimitValue {
				if err := tx.Model(&LicenseQuota{}).Where("id = ?", quota.ID).Updates(map[string]any{
					"limit_value": merged,
					"updated_at":  time.Now(),
				}).Error; err != nil {
					return err
				}
			}
		}

		if err := s.recordApplication(tx, &lic, p.PaymentID); err != nil {
			return err
		}

		var refreshed License
		if err := tx.Preload("Quotas").Where("id = ?", lic.ID).First(&refreshed).Error; err != nil {
			return err
		}
		out = &refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mergeLimit keeps the unlimited sentinel dominant: once a kind is
// unlimited (0), a finite renewal limit does not demote it.
func mergeLimit(oldLimit, newLimit int64) int64 {
	if oldLimit == 0 || newLimit == 0 {
		return 0
	}
	if newLimit > oldLimit {
		return newLimit
	}
	return oldLimit
}

// UsageUpdate reports the outcome of a conditional counter mutation.
type UsageUpdate struct {
	Applied bool
	Limit   int64
	Used    int64
}

// UpdateUsage is the single atomic primitive behind reserve and release.
// A positive delta increments used only if the result stays within the
// limit (or the limit is the unlimited sentinel 0); a negative delta
// decrements floored at zero. Either direction is one conditional UPDATE
// round trip, never a read followed by a write, so two racing reservations
// cannot both pass a stale check.
func (s *Store) UpdateUsage(ctx context.Context, licenseID string, kind ResourceKind, delta int64) (*UsageUpdate, error) {
	if delta == 0 {
		return nil, errutil.BadRequest("usage delta must be non-zero", nil)
	}

	if delta > 0 {
		return s.reserveUsage(ctx, licenseID, kind, delta)
	}
	return s.releaseUsage(ctx, licenseID, kind, -delta)
}

func (s *Store) reserveUsage(ctx context.Context, licenseID string, kind ResourceKind, amount int64) (*UsageUpdate, error) {
	res := s.db.WithContext(ctx).Model(&LicenseQuota{}).
		Where("license_id = ? AND kind = ? AND (limit_value = 0 OR used + ? <= limit_value)", licenseID, kind, amount).
		Updates(map[string]any{
			"used":       gorm.Expr("used + ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	quota, err := s.quotas.FindOne(ctx, &LicenseQuota{LicenseID: licenseID, Kind: kind})
	if err != nil {
		return nil, err
	}
	if quota == nil {
		// Kind was never provisioned on this license; treat as zero capacity.
		return &UsageUpdate{Applied: false, Limit: 0, Used: 0}, nil
	}

	return &UsageUpdate{
		Applied: res.RowsAffected > 0,
		Limit:   quota.LimitValue,
		Used:    quota.Used,
	}, nil
}

func (s *Store) releaseUsage(ctx context.Context, licenseID string, kind ResourceKind, amount int64) (*UsageUpdate, error) {
	res := s.db.WithContext(ctx).Model(&LicenseQuota{}).
		Where("license_id = ? AND kind = ? AND used >= ?", licenseID, kind, amount).
		Updates(map[string]any{
			"used":       gorm.Expr("used - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	floored := false
	if res.RowsAffected == 0 {
		// Over-release: clamp to zero rather than going negative. The caller
		// logs this as a data-integrity warning.
		clamp := s.db.WithContext(ctx).Model(&LicenseQuota{}).
			Where("license_id = ? AND kind = ? AND used > 0", licenseID, kind).
			Updates(map[string]any{"used": 0, "updated_at": time.Now()})
		if clamp.Error != nil {
			return nil, clamp.Error
		}
		floored = true
	}

	quota, err := s.quotas.FindOne(ctx, &LicenseQuota{LicenseID: licenseID, Kind: kind})
	if err != nil {
		return nil, err
	}
	if quota == nil {
		return &UsageUpdate{Applied: false, Limit: 0, Used: 0}, nil
	}

	return &UsageUpdate{
		Applied: !floored,
		Limit:   quota.LimitValue,
		Used:    quota.Used,
	}, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
