package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marinedesk-portal/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestService(t *testing.T) (*Service, *enqueuerMock) {
	t.Helper()
	db := testutil.NewTestDB(t, &Payment{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enq := &enqueuerMock{}
	return NewService(ServiceParams{DB: db, Node: node, Asynq: enq}), enq
}

func TestRecordNotificationSuccessEnqueuesActivation(t *testing.T) {
	svc, enq := newTestService(t)

	record, err := svc.RecordNotification(context.Background(), NotificationParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		Status:         StatusSuccess,
		Amount:         25000,
		Currency:       "USD",
		PlanCode:       "fleet-standard",
		PeriodEnd:      time.Now().AddDate(1, 0, 0),
		UsageLimits:    map[string]int64{"vessels": 10},
	})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, record.Status)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskLicenseActivate, enq.tasks[0].Type())
}

func TestRecordNotificationPendingDoesNotEnqueue(t *testing.T) {
	svc, enq := newTestService(t)

	_, err := svc.RecordNotification(context.Background(), NotificationParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		Status:         StatusPending,
	})
	require.NoError(t, err)
	require.Empty(t, enq.tasks)
}

func TestRecordNotificationDuplicateAbsorbed(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	params := NotificationParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		Status:         StatusSuccess,
		Amount:         25000,
	}

	first, err := svc.RecordNotification(ctx, params)
	require.NoError(t, err)

	// Redelivery with a drifted amount keeps the stored record.
	params.Amount = 99999
	second, err := svc.RecordNotification(ctx, params)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(25000), second.Amount)

	// The task is re-enqueued; the bridge's applied-payment history absorbs
	// it downstream.
	require.Len(t, enq.tasks, 2)

	count, err := svc.repo.Count(ctx, &Payment{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRecordNotificationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordNotification(ctx, NotificationParams{OrganizationID: "org-1", Status: StatusSuccess})
	require.Error(t, err)

	_, err = svc.RecordNotification(ctx, NotificationParams{PaymentID: "pay-1", Status: StatusSuccess})
	require.Error(t, err)

	_, err = svc.RecordNotification(ctx, NotificationParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		Status:         PaymentStatus("weird"),
	})
	require.Error(t, err)
}

func TestApproveManual(t *testing.T) {
	svc, enq := newTestService(t)

	record, err := svc.ApproveManual(context.Background(), ManualApprovalParams{
		OrganizationID: "org-1",
		PlanCode:       "fleet-standard",
		PeriodEnd:      time.Now().AddDate(0, 6, 0),
		UsageLimits:    map[string]int64{"vessels": 3},
	})
	require.NoError(t, err)
	require.True(t, record.Manual)
	require.Equal(t, StatusSuccess, record.Status)
	require.Equal(t, int64(0), record.Amount)
	require.Contains(t, record.ID, "manual-")
	require.Len(t, enq.tasks, 1)
}

func TestApproveManualRequiresOrganization(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApproveManual(context.Background(), ManualApprovalParams{})
	require.Error(t, err)
}

func TestApproveManualEnqueueFailure(t *testing.T) {
	svc, enq := newTestService(t)
	enq.err = errors.New("redis down")

	_, err := svc.ApproveManual(context.Background(), ManualApprovalParams{OrganizationID: "org-1"})
	require.Error(t, err)
}

func TestGetPayment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordNotification(ctx, NotificationParams{
		PaymentID:      "pay-1",
		OrganizationID: "org-1",
		Status:         StatusFailed,
	})
	require.NoError(t, err)

	got, err := svc.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)

	_, err = svc.GetPayment(ctx, "pay-unknown")
	require.Error(t, err)
}
