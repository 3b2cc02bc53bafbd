package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/clock"
	"github.com/croftlabs/croft/internal/observability/metrics"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	usagedomain "github.com/croftlabs/croft/internal/usage/domain"
	"github.com/croftlabs/croft/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// counterColumns maps metered resource names onto usage_metrics columns.
// The whitelist keeps resource names out of SQL identifiers.
var counterColumns = map[string]string{
	plandomain.ResourceAPIRequests: "api_calls",
	plandomain.ResourceAreaHa:      "area_ha",
	plandomain.ResourceSeats:       "seats",
	plandomain.ResourceParcels:     "parcels",
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	subsvc subscriptiondomain.Service
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Subsvc subscriptiondomain.Service
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("usage.meter"),
		genID:  p.GenID,
		clock:  p.Clock,
		subsvc: p.Subsvc,
	}
}

// GetOrCreateCurrentPeriod implements domain.Service.
func (s *Service) GetOrCreateCurrentPeriod(ctx context.Context, tenantID snowflake.ID) (usagedomain.UsageMetrics, error) {
	now := s.clock.Now()
	return s.getOrCreate(ctx, tenantID, now.Year(), int(now.Month()))
}

func (s *Service) getOrCreate(ctx context.Context, tenantID snowflake.ID, year, month int) (usagedomain.UsageMetrics, error) {
	existing, err := s.find(ctx, tenantID, year, month)
	if err != nil {
		return usagedomain.UsageMetrics{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := s.clock.Now()
	record := usagedomain.UsageMetrics{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Year:      year,
		Month:     month,
		Overages:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		// Lost the insert race: another call created the period row.
		if db.IsDuplicateKeyErr(err) {
			winner, findErr := s.find(ctx, tenantID, year, month)
			if findErr != nil {
				return usagedomain.UsageMetrics{}, findErr
			}
			if winner != nil {
				return *winner, nil
			}
		}
		return usagedomain.UsageMetrics{}, err
	}
	return record, nil
}

func (s *Service) find(ctx context.Context, tenantID snowflake.ID, year, month int) (*usagedomain.UsageMetrics, error) {
	var record usagedomain.UsageMetrics
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND year = ? AND month = ?", tenantID, year, month).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// RecordAndCheck implements domain.Service.
func (s *Service) RecordAndCheck(ctx context.Context, tenantID snowflake.ID, resource string, delta float64) (usagedomain.Decision, error) {
	column, ok := counterColumns[resource]
	if !ok {
		return usagedomain.Decision{}, usagedomain.ErrUnknownResource
	}

	limit, err := s.subsvc.LimitFor(ctx, tenantID, resource)
	if err != nil {
		return usagedomain.Decision{}, err
	}

	record, err := s.GetOrCreateCurrentPeriod(ctx, tenantID)
	if err != nil {
		return usagedomain.Decision{}, err
	}

	now := s.clock.Now()
	var result *gorm.DB
	if limit.IsUnlimited() {
		result = s.db.WithContext(ctx).Exec(
			fmt.Sprintf(`UPDATE usage_metrics SET %s = %s + ?, updated_at = ? WHERE id = ?`, column, column),
			delta, now, record.ID,
		)
	} else {
		// Guarded increment: the comparison runs against the committed
		// count, so two racing calls cannot both slip under the limit.
		result = s.db.WithContext(ctx).Exec(
			fmt.Sprintf(`UPDATE usage_metrics SET %s = %s + ?, updated_at = ? WHERE id = ? AND %s + ? <= ?`,
				column, column, column),
			delta, now, record.ID, delta, limit.Value(),
		)
	}
	if result.Error != nil {
		return usagedomain.Decision{}, result.Error
	}

	current, err := s.find(ctx, tenantID, record.Year, record.Month)
	if err != nil {
		return usagedomain.Decision{}, err
	}
	if current == nil {
		return usagedomain.Decision{}, gorm.ErrRecordNotFound
	}
	used, _ := current.Counter(resource)

	if result.RowsAffected == 0 {
		metrics.Billing().UsageDecisions.WithLabelValues(resource, "deny").Inc()
		s.log.Debug("metered operation denied",
			zap.String("tenant_id", tenantID.String()),
			zap.String("resource", resource),
			zap.Float64("used", used),
		)
		return usagedomain.Decision{
			Allowed:  false,
			Resource: resource,
			Used:     used,
			Limit:    limit,
		}, nil
	}

	metrics.Billing().UsageDecisions.WithLabelValues(resource, "admit").Inc()
	return usagedomain.Decision{
		Allowed:  true,
		Resource: resource,
		Used:     used,
		Limit:    limit,
	}, nil
}

// CalculateOverages implements domain.Service.
func (s *Service) CalculateOverages(ctx context.Context, tenantID snowflake.ID, year, month int) (map[string]float64, error) {
	record, err := s.find(ctx, tenantID, year, month)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return map[string]float64{}, nil
	}

	overages := map[string]float64{}
	for resource := range counterColumns {
		limit, err := s.subsvc.LimitFor(ctx, tenantID, resource)
		if err != nil {
			return nil, err
		}
		if limit.IsUnlimited() {
			continue
		}
		used, _ := record.Counter(resource)
		if over := used - limit.Value(); over > 0 {
			overages[resource] = over
		}
	}

	payload := datatypes.JSONMap{}
	for resource, over := range overages {
		payload[resource] = over
	}
	err = s.db.WithContext(ctx).Exec(
		`UPDATE usage_metrics SET overages = ?, updated_at = ? WHERE id = ?`,
		payload, s.clock.Now(), record.ID,
	).Error
	if err != nil {
		return nil, err
	}
	return overages, nil
}
