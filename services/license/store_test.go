package license

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marinedesk-portal/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// seqGen issues unique keys, mimicking the redis-backed generator.
type seqGen struct {
	n atomic.Int64
}

func (g *seqGen) NextLicenseKey(ctx context.Context) (string, error) {
	return fmt.Sprintf("LIC-TEST-%04d", g.n.Add(1)), nil
}

// fixedGen replays a scripted key sequence so collision handling can be
// exercised deterministically. The last key repeats once exhausted.
type fixedGen struct {
	keys []string
	i    int
}

func (g *fixedGen) NextLicenseKey(ctx context.Context) (string, error) {
	key := g.keys[g.i]
	if g.i < len(g.keys)-1 {
		g.i++
	}
	return key, nil
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func newTestStore(t *testing.T, keys interface {
	NextLicenseKey(ctx context.Context) (string, error)
}) *Store {
	t.Helper()
	db := testutil.NewTestDB(t, &License{}, &LicenseQuota{}, &LicensePayment{})
	return NewStore(StoreParams{DB: db, Node: testNode(t), Keys: keys})
}

func TestCreateLicenseProvisionsAllKinds(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		ExpiresAt:      time.Now().AddDate(1, 0, 0),
		UsageLimits:    UsageMap{KindVessels: 5, KindUsers: 2},
		PaymentID:      "pay-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, lic.Status)
	require.NotEmpty(t, lic.LicenseKey)
	require.Len(t, lic.Quotas, len(AllKinds()))

	limits := lic.UsageLimits()
	usage := lic.CurrentUsage()
	require.Equal(t, int64(5), limits[KindVessels])
	require.Equal(t, int64(2), limits[KindUsers])
	// Kinds absent from the plan get the unlimited sentinel.
	require.Equal(t, int64(0), limits[KindItems])
	for _, kind := range AllKinds() {
		require.Equal(t, int64(0), usage[kind])
	}
}

func TestCreateLicenseRetriesOnKeyCollision(t *testing.T) {
	s := newTestStore(t, &fixedGen{keys: []string{"LIC-DUP", "LIC-DUP", "LIC-FRESH"}})
	ctx := context.Background()

	first, err := s.CreateLicense(ctx, CreateLicenseParams{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Equal(t, "LIC-DUP", first.LicenseKey)

	second, err := s.CreateLicense(ctx, CreateLicenseParams{OrganizationID: "org-2"})
	require.NoError(t, err)
	require.Equal(t, "LIC-FRESH", second.LicenseKey)
}

func TestCreateLicenseExhaustsKeyAttempts(t *testing.T) {
	s := newTestStore(t, &fixedGen{keys: []string{"LIC-SAME"}})
	ctx := context.Background()

	_, err := s.CreateLicense(ctx, CreateLicenseParams{OrganizationID: "org-1"})
	require.NoError(t, err)

	_, err = s.CreateLicense(ctx, CreateLicenseParams{OrganizationID: "org-2"})
	require.Error(t, err)
}

func TestGetRecordReturnsLatest(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	_, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		IssuedAt:       time.Now().AddDate(-1, 0, 0),
	})
	require.NoError(t, err)

	latest, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		IssuedAt:       time.Now(),
	})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, latest.ID, got.ID)
	require.Len(t, got.Quotas, len(AllKinds()))
}

func TestGetRecordUnknownOrganization(t *testing.T) {
	s := newTestStore(t, &seqGen{})

	got, err := s.GetRecord(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetByPaymentID(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		PaymentID:      "pay-42",
	})
	require.NoError(t, err)

	got, err := s.GetByPaymentID(ctx, "pay-42")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, lic.ID, got.ID)

	missing, err := s.GetByPaymentID(ctx, "pay-unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGetByPaymentIDSurvivesRenewal(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		PaymentID:      "pay-1",
	})
	require.NoError(t, err)

	_, err = s.ExtendLicense(ctx, ExtendLicenseParams{
		OrganizationID: "org-1",
		NewExpiresAt:   time.Now().AddDate(1, 0, 0),
		PaymentID:      "pay-2",
	})
	require.NoError(t, err)

	// The older payment stays resolvable even though the license column now
	// points at the newer one.
	got, err := s.GetByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, lic.ID, got.ID)

	got, err = s.GetByPaymentID(ctx, "pay-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, lic.ID, got.ID)
}

func TestExtendLicenseExpiryNeverMovesBackward(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	farEnd := time.Now().AddDate(1, 0, 0)
	_, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		ExpiresAt:      farEnd,
	})
	require.NoError(t, err)

	renewed, err := s.ExtendLicense(ctx, ExtendLicenseParams{
		OrganizationID: "org-1",
		NewExpiresAt:   time.Now().AddDate(0, 1, 0),
		PaymentID:      "pay-stale",
	})
	require.NoError(t, err)
	require.WithinDuration(t, farEnd, renewed.ExpiresAt, time.Second)
}

func TestExtendLicenseMaxMergesLimits(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	_, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		ExpiresAt:      time.Now().AddDate(0, 1, 0),
		UsageLimits:    UsageMap{KindVessels: 5, KindUsers: 10},
	})
	require.NoError(t, err)

	newExpiry := time.Now().AddDate(1, 0, 0)
	renewed, err := s.ExtendLicense(ctx, ExtendLicenseParams{
		OrganizationID: "org-1",
		NewExpiresAt:   newExpiry,
		NewUsageLimits: UsageMap{KindVessels: 3, KindUsers: 20, KindItems: 7},
		PaymentID:      "pay-renew",
	})
	require.NoError(t, err)

	limits := renewed.UsageLimits()
	// A renewal never lowers a granted limit.
	require.Equal(t, int64(5), limits[KindVessels])
	require.Equal(t, int64(20), limits[KindUsers])
	// Items was provisioned unlimited; a finite renewal limit does not demote it.
	require.Equal(t, int64(0), limits[KindItems])
	require.Equal(t, StatusActive, renewed.Status)
	require.Equal(t, "pay-renew", renewed.PaymentID)
	require.WithinDuration(t, newExpiry, renewed.ExpiresAt, time.Second)
}

func TestExtendLicensePreservesUsage(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)

	upd, err := s.UpdateUsage(ctx, lic.ID, KindVessels, 2)
	require.NoError(t, err)
	require.True(t, upd.Applied)

	renewed, err := s.ExtendLicense(ctx, ExtendLicenseParams{
		OrganizationID: "org-1",
		NewExpiresAt:   time.Now().AddDate(1, 0, 0),
		NewUsageLimits: UsageMap{KindVessels: 8},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), renewed.CurrentUsage()[KindVessels])
}

func TestUpdateUsageReserveWithinLimit(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		UsageLimits:    UsageMap{KindVessels: 2},
	})
	require.NoError(t, err)

	upd, err := s.UpdateUsage(ctx, lic.ID, KindVessels, 2)
	require.NoError(t, err)
	require.True(t, upd.Applied)
	require.Equal(t, int64(2), upd.Used)
	require.Equal(t, int64(2), upd.Limit)

	upd, err = s.UpdateUsage(ctx, lic.ID, KindVessels, 1)
	require.NoError(t, err)
	require.False(t, upd.Applied)
	require.Equal(t, int64(2), upd.Used)
}

func TestUpdateUsageUnlimitedSentinel(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		UsageLimits:    UsageMap{KindItems: 0},
	})
	require.NoError(t, err)

	upd, err := s.UpdateUsage(ctx, lic.ID, KindItems, 1000)
	require.NoError(t, err)
	require.True(t, upd.Applied)
	require.Equal(t, int64(1000), upd.Used)
	require.Equal(t, int64(0), upd.Limit)
}

func TestUpdateUsageUnprovisionedKind(t *testing.T) {
	s := newTestStore(t, &seqGen{})

	upd, err := s.UpdateUsage(context.Background(), "no-such-license", KindVessels, 1)
	require.NoError(t, err)
	require.False(t, upd.Applied)
	require.Equal(t, int64(0), upd.Limit)
}

func TestUpdateUsageReleaseFloorsAtZero(t *testing.T) {
	s := newTestStore(t, &seqGen{})
	ctx := context.Background()

	lic, err := s.CreateLicense(ctx, CreateLicenseParams{
		OrganizationID: "org-1",
		UsageLimits:    UsageMap{KindVessels: 5},
	})
	require.NoError(t, err)

	_, err = s.UpdateUsage(ctx, lic.ID, KindVessels, 1)
	require.NoError(t, err)

	upd, err := s.UpdateUsage(ctx, lic.ID, KindVessels, -3)
	require.NoError(t, err)
	require.False(t, upd.Applied)
	require.Equal(t, int64(0), upd.Used)
}

func TestUpdateUsageZeroDeltaRejected(t *testing.T) {
	s := newTestStore(t, &seqGen{})

	_, err := s.UpdateUsage(context.Background(), "lic", KindVessels, 0)
	require.Error(t, err)
}
