package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LegacyObjectIDLength is the length of a legacy tenant-store ObjectID in hex characters
const LegacyObjectIDLength = 24

// UUIDHexLength is the length of a UUID in hex characters (without dashes)
const UUIDHexLength = 32

// ParseOrganizationID parses an organization identifier arriving in a webhook
// payload. Current tenants send UUIDs; tenants migrated from the legacy store
// still embed 24-hex ObjectIDs in their forms, which are mapped into UUID
// space by zero-padding. Returns nil if the value is neither.
func ParseOrganizationID(raw string) *uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if id, err := uuid.Parse(raw); err == nil {
		return &id
	}

	if id, err := ConvertLegacyIDToUUID(raw); err == nil {
		return &id
	}

	return nil
}

// ConvertLegacyIDToUUID converts a legacy ObjectID (24 hex characters) to a UUID
// by prepending zeros to make it 32 characters, then formatting as a UUID.
// Example: "682c5990bf4a775c8de9598a" -> "00000000-682c-5990-bf4a-775c8de9598a"
func ConvertLegacyIDToUUID(legacyID string) (uuid.UUID, error) {
	legacyID = strings.TrimSpace(legacyID)

	if len(legacyID) != LegacyObjectIDLength {
		return uuid.Nil, fmt.Errorf("invalid legacy ObjectID length: expected %d characters, got %d", LegacyObjectIDLength, len(legacyID))
	}

	for _, char := range legacyID {
		if !((char >= '0' && char <= '9') || (char >= 'a' && char <= 'f') || (char >= 'A' && char <= 'F')) {
			return uuid.Nil, fmt.Errorf("invalid legacy ObjectID: contains non-hexadecimal characters")
		}
	}

	// Pad to 32 hex chars and format as 8-4-4-4-12
	padded := strings.Repeat("0", UUIDHexLength-LegacyObjectIDLength) + legacyID
	uuidStr := fmt.Sprintf("%s-%s-%s-%s-%s",
		padded[0:8],
		padded[8:12],
		padded[12:16],
		padded[16:20],
		padded[20:32],
	)

	return uuid.Parse(uuidStr)
}
