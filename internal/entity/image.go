package entity

import (
	"time"

	"github.com/google/uuid"
)

// Image is a stored page image. Owned by the archive CRUD layer; read-only here.
type Image struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	StoragePath string     `json:"storage_path"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Document groups images.
type Document struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
