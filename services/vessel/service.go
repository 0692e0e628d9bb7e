package vessel

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marinedesk-portal/pkg/db/option"
	"marinedesk-portal/pkg/db/pagination"
	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/pkg/repository"
	"marinedesk-portal/services/license"
)

// Service is the exemplar quota-governed resource registry. Creation is a
// two-phase sequence: reserve a vessel slot, then insert the record; an
// insert failure must compensate with a release or the slot leaks
// permanently. Every other gated kind (employees, users, items, business
// units) follows this exact call pattern from its own handlers.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enforcer *license.Enforcer
	repo     repository.Repository[Vessel]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enforcer *license.Enforcer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enforcer: p.Enforcer,
		repo:     repository.ProvideStore[Vessel](p.DB),
	}
}

type CreateVesselParams struct {
	OrganizationID string
	Name           string
	IMONumber      string
	Flag           string
	VesselType     string
}

func (s *Service) CreateVessel(ctx context.Context, p CreateVesselParams) (*Vessel, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", p.OrganizationID),
	)

	if p.OrganizationID == "" || p.Name == "" {
		return nil, errutil.BadRequest("organization_id and name are required", nil)
	}

	if _, err := s.enforcer.TryReserve(ctx, p.OrganizationID, license.KindVessels, 1); err != nil {
		// A denial is a hard stop surfaced to the operator with the counts;
		// never retried here.
		return nil, err
	}

	v := &Vessel{
		ID:             s.node.Generate().String(),
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		IMONumber:      p.IMONumber,
		Flag:           p.Flag,
		VesselType:     p.VesselType,
	}

	if err := s.repo.Create(ctx, v); err != nil {
		zapLog.Error("failed to create vessel, releasing reservation", zap.Error(err))
		if relErr := s.enforcer.Release(ctx, p.OrganizationID, license.KindVessels, 1); relErr != nil {
			zapLog.Error("failed to release vessel reservation after insert failure", zap.Error(relErr))
		}
		return nil, errutil.Internal("failed to create vessel", err)
	}

	return v, nil
}

func (s *Service) GetVessel(ctx context.Context, orgID, vesselID string) (*Vessel, error) {
	v, err := s.repo.FindOne(ctx, &Vessel{ID: vesselID, OrganizationID: orgID})
	if err != nil {
		return nil, errutil.Internal("failed to query vessel", err)
	}
	if v == nil {
		return nil, errutil.NotFound("vessel not found", nil)
	}
	return v, nil
}

func (s *Service) ListVessels(ctx context.Context, orgID string, page pagination.Pagination) ([]*Vessel, error) {
	vessels, err := s.repo.Find(ctx, &Vessel{OrganizationID: orgID},
		option.ApplyPagination(page),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list vessels", err)
	}
	return vessels, nil
}

// DeleteVessel removes the record and reclaims its quota slot.
func (s *Service) DeleteVessel(ctx context.Context, orgID, vesselID string) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", orgID),
		zap.String("vessel_id", vesselID),
	)

	v, err := s.repo.FindOne(ctx, &Vessel{ID: vesselID, OrganizationID: orgID})
	if err != nil {
		return errutil.Internal("failed to query vessel", err)
	}
	if v == nil {
		return errutil.NotFound("vessel not found", nil)
	}

	if err := s.repo.Delete(ctx, vesselID); err != nil {
		zapLog.Error("failed to delete vessel", zap.Error(err))
		return errutil.Internal("failed to delete vessel", err)
	}

	if err := s.enforcer.Release(ctx, orgID, license.KindVessels, 1); err != nil {
		zapLog.Error("failed to release vessel quota after delete", zap.Error(err))
		return err
	}

	return nil
}
