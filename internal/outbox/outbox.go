package outbox

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tourney-registry/internal/models"
)

// Add records one event. Call it with the transaction that performs the
// mutation so the event commits or rolls back with it.
func Add(tx *gorm.DB, entityType string, entityID int64, op string, payload any) error {
	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("outbox payload: %w", err)
		}
		data = b
	}
	event := models.OutboxEvent{
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    datatypes.JSON(data),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}
	return nil
}
