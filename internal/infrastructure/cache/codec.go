package cache

import (
	"encoding/json"
	"fmt"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/google/uuid"
)

const keyPrefix = "entitlement"

func slotKey(slot entitlement.Slot, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID.String(), slot)
}

func trialMarkerKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s:trial_used:%s", keyPrefix, userID.String())
}

func encodeSlot(slot entitlement.Slot, record entitlement.SlotRecord) ([]byte, error) {
	record.Source = slot
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(record)
}

// decodeSlot parses a stored payload. Anything unreadable, or stored under
// the wrong slot, is ErrCacheCorrupt.
func decodeSlot(slot entitlement.Slot, data []byte) (*entitlement.SlotRecord, error) {
	var record entitlement.SlotRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, entitlement.ErrCacheCorrupt.WithCause(err)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.Source != slot {
		return nil, entitlement.ErrCacheCorrupt.WithMessage(fmt.Sprintf("slot %s holds a %s payload", slot, record.Source))
	}
	return &record, nil
}
