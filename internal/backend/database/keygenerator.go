package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// generateID returns a random (version 4) UUID string used as the image ID.
func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewImage builds a slot entry with a fresh ID.
func NewImage(data []byte, contentType string, storedAt time.Time) (*Image, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate image id: %w", err)
	}
	return &Image{
		ID:          id,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		StoredAt:    storedAt,
	}, nil
}
