package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, now func() time.Time) (*Bridge, *Store) {
	t.Helper()
	m, s := newTestManager(t, now)
	b := NewBridge(BridgeParams{Store: s, Manager: m})
	return b, s
}

func TestActivateOnFirstPayment(t *testing.T) {
	b, _ := newTestBridge(t, time.Now)

	periodEnd := time.Now().AddDate(1, 0, 0)
	lic, err := b.ActivateOrRenew(context.Background(), ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      periodEnd,
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, lic.Status)
	require.Equal(t, "pay-1", lic.PaymentID)
	require.Equal(t, int64(5), lic.UsageLimits()[KindVessels])
	require.WithinDuration(t, periodEnd, lic.ExpiresAt, time.Second)
}

func TestRenewOnSubsequentPayment(t *testing.T) {
	b, _ := newTestBridge(t, time.Now)
	ctx := context.Background()

	first, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      time.Now().AddDate(0, 6, 0),
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)

	newEnd := time.Now().AddDate(1, 0, 0)
	second, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-2",
		OrganizationID: "org-1",
		PeriodEnd:      newEnd,
		UsageLimits:    UsageMap{KindVessels: 10},
	})
	require.NoError(t, err)

	// A later payment renews the same license rather than issuing another.
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "pay-2", second.PaymentID)
	require.Equal(t, int64(10), second.UsageLimits()[KindVessels])
	require.WithinDuration(t, newEnd, second.ExpiresAt, time.Second)
}

func TestDuplicatePaymentAbsorbed(t *testing.T) {
	b, s := newTestBridge(t, time.Now)
	ctx := context.Background()

	params := ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      time.Now().AddDate(1, 0, 0),
		UsageLimits:    UsageMap{KindVessels: 5},
	}

	first, err := b.ActivateOrRenew(ctx, params)
	require.NoError(t, err)

	second, err := b.ActivateOrRenew(ctx, params)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.WithinDuration(t, first.ExpiresAt, second.ExpiresAt, time.Second)

	var count int64
	require.NoError(t, s.db.Model(&License{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestStaleRedeliveryAfterRenewalAbsorbed(t *testing.T) {
	b, s := newTestBridge(t, time.Now)
	ctx := context.Background()

	shortEnd := time.Now().AddDate(0, 1, 0)
	_, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      shortEnd,
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)

	longEnd := time.Now().AddDate(1, 0, 0)
	renewed, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-2",
		OrganizationID: "org-1",
		PeriodEnd:      longEnd,
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)
	require.WithinDuration(t, longEnd, renewed.ExpiresAt, time.Second)

	// Replay the first payment after the renewal re-pointed payment_id.
	// It already produced its mutation; expiry must not roll backward.
	replayed, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      shortEnd,
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)
	require.Equal(t, renewed.ID, replayed.ID)
	require.WithinDuration(t, longEnd, replayed.ExpiresAt, time.Second)

	current, err := s.GetRecord(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "pay-2", current.PaymentID)
	require.WithinDuration(t, longEnd, current.ExpiresAt, time.Second)
}

func TestActivateOrRenewRejectsMissingIdentifiers(t *testing.T) {
	b, _ := newTestBridge(t, time.Now)
	ctx := context.Background()

	_, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{OrganizationID: "org-1"})
	require.Error(t, err)

	_, err = b.ActivateOrRenew(ctx, ActivateOrRenewParams{PaymentID: "pay-1"})
	require.Error(t, err)
}

func TestRenewAfterExpiryRestoresActive(t *testing.T) {
	now := time.Now()
	clock := now
	b, s := newTestBridge(t, func() time.Time { return clock })
	ctx := context.Background()

	_, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		PeriodEnd:      now.Add(time.Hour),
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)

	clock = now.AddDate(0, 2, 0)

	lic, err := b.ActivateOrRenew(ctx, ActivateOrRenewParams{
		PaymentID:      "pay-2",
		OrganizationID: "org-1",
		PeriodEnd:      clock.AddDate(1, 0, 0),
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, EffectiveStatus(lic.Status, lic.ExpiresAt, clock))

	got, err := s.GetRecord(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, lic.ID, got.ID)
}
