package models

import "github.com/google/uuid"

// ensureID assigns a fresh id when none is set; sqlite has no gen_random_uuid().
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
