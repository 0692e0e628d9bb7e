package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/pkg/repository"
	"marinedesk-portal/pkg/task"
)

// Service records payment notifications and routes successful ones toward
// license activation through the task queue. It never mutates license state
// directly; that is the bridge's job on the worker side.
type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	asynq task.Enqueuer
	repo  repository.Repository[Payment]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Asynq task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		asynq: p.Asynq,
		repo:  repository.ProvideStore[Payment](p.DB),
	}
}

type NotificationParams struct {
	PaymentID        string
	OrganizationID   string
	OrganizationType string
	Status           PaymentStatus
	Amount           int64
	Currency         string
	PlanCode         string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	UsageLimits      map[string]int64
	Pricing          json.RawMessage
}

// RecordNotification persists a gateway notification and, when it reports
// success, enqueues license activation. A redelivered notification for a
// known payment id is absorbed: the stored record wins, and the activation
// task is re-enqueued because the downstream bridge is idempotent anyway.
func (s *Service) RecordNotification(ctx context.Context, p NotificationParams) (*Payment, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("payment_id", p.PaymentID),
		zap.String("organization_id", p.OrganizationID),
	)

	if p.PaymentID == "" || p.OrganizationID == "" {
		return nil, errutil.BadRequest("payment_id and organization_id are required", nil)
	}
	if p.Status.String() == "" {
		return nil, errutil.BadRequest("unknown payment status", nil)
	}

	limitsJSON, err := json.Marshal(p.UsageLimits)
	if err != nil {
		return nil, errutil.BadRequest("invalid usage limits", err)
	}

	record := &Payment{
		ID:               p.PaymentID,
		OrganizationID:   p.OrganizationID,
		OrganizationType: p.OrganizationType,
		Status:           p.Status,
		Amount:           p.Amount,
		Currency:         p.Currency,
		PlanCode:         p.PlanCode,
		PeriodStart:      p.PeriodStart,
		PeriodEnd:        p.PeriodEnd,
		UsageLimits:      datatypes.JSON(limitsJSON),
		Pricing:          datatypes.JSON(p.Pricing),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		existing, lookupErr := s.repo.FindOne(ctx, &Payment{ID: p.PaymentID})
		if lookupErr == nil && existing != nil {
			zapLog.Info("duplicate payment notification, keeping stored record")
			record = existing
		} else {
			zapLog.Error("failed to persist payment", zap.Error(err))
			return nil, errutil.Internal("failed to persist payment", err)
		}
	}

	if record.Status == StatusSuccess {
		if err := s.enqueueActivation(record, p.UsageLimits, p.Pricing); err != nil {
			zapLog.Error("failed to enqueue license activation", zap.Error(err))
			return nil, errutil.Internal("failed to enqueue license activation", err)
		}
	}

	return record, nil
}

type ManualApprovalParams struct {
	OrganizationID   string
	OrganizationType string
	PlanCode         string
	PeriodEnd        time.Time
	UsageLimits      map[string]int64
}

// ApproveManual is the administrative override path: it fabricates a
// zero-amount success payment and routes it through the same activation
// pipeline as a real one.
func (s *Service) ApproveManual(ctx context.Context, p ManualApprovalParams) (*Payment, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", p.OrganizationID),
	)

	if p.OrganizationID == "" {
		return nil, errutil.BadRequest("organization_id is required", nil)
	}

	limitsJSON, err := json.Marshal(p.UsageLimits)
	if err != nil {
		return nil, errutil.BadRequest("invalid usage limits", err)
	}

	record := &Payment{
		ID:               fmt.Sprintf("manual-%s", s.node.Generate().String()),
		OrganizationID:   p.OrganizationID,
		OrganizationType: p.OrganizationType,
		Status:           StatusSuccess,
		Amount:           0,
		PlanCode:         p.PlanCode,
		PeriodEnd:        p.PeriodEnd,
		UsageLimits:      datatypes.JSON(limitsJSON),
		Manual:           true,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		zapLog.Error("failed to persist manual approval", zap.Error(err))
		return nil, errutil.Internal("failed to persist manual approval", err)
	}

	if err := s.enqueueActivation(record, p.UsageLimits, nil); err != nil {
		zapLog.Error("failed to enqueue license activation", zap.Error(err))
		return nil, errutil.Internal("failed to enqueue license activation", err)
	}

	zapLog.Info("manual approval recorded", zap.String("payment_id", record.ID))
	return record, nil
}

// GetPayment returns a stored payment, or a not-found error.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	record, err := s.repo.FindOne(ctx, &Payment{ID: paymentID})
	if err != nil {
		return nil, errutil.Internal("failed to query payment", err)
	}
	if record == nil {
		return nil, errutil.NotFound("payment not found", nil)
	}
	return record, nil
}

func (s *Service) enqueueActivation(record *Payment, limits map[string]int64, pricing json.RawMessage) error {
	t := NewLicenseActivateTask(LicenseActivatePayload{
		PaymentID:        record.ID,
		OrganizationID:   record.OrganizationID,
		OrganizationType: record.OrganizationType,
		PeriodEnd:        record.PeriodEnd,
		UsageLimits:      limits,
		Pricing:          pricing,
	})
	_, err := s.asynq.Enqueue(t)
	return err
}
