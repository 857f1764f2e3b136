package storage

import "github.com/google/uuid"

// NewID returns a store-assigned session identifier. Version 7 UUIDs sort by
// creation time, like the push keys of the record store they replace.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
