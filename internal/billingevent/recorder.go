package billingevent

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/billingevent/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder appends billing events inside the caller's transaction.
type Recorder struct {
	genID *snowflake.Node
}

func NewRecorder(genID *snowflake.Node) *Recorder {
	return &Recorder{genID: genID}
}

func (r *Recorder) Append(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	subscriptionID *snowflake.ID,
	eventType string,
	payload map[string]any,
	externalEventID *string,
) error {
	event := &domain.BillingEvent{
		ID:              r.genID.Generate(),
		TenantID:        tenantID,
		SubscriptionID:  subscriptionID,
		EventType:       eventType,
		Payload:         datatypes.JSONMap(payload),
		ExternalEventID: externalEventID,
	}
	return tx.WithContext(ctx).Create(event).Error
}

// SeenExternalEvent reports whether an event with the given gateway event
// id was already applied. Used as the durable backstop behind the
// in-process fingerprint cache.
func (r *Recorder) SeenExternalEvent(ctx context.Context, tx *gorm.DB, externalEventID string) (bool, error) {
	if externalEventID == "" {
		return false, nil
	}
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_events WHERE external_event_id = ?`,
		externalEventID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
