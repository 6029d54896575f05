package models

import "github.com/google/uuid"

// ensureID assigns a fresh id when the caller left it empty. Postgres would
// default the column itself, sqlite cannot.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
