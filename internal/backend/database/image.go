package database

import "time"

// Image is the content of the single image slot.
type Image struct {
	ID          string    `db:"id"`
	Data        []byte    `db:"data"`         // raw payload as uploaded by the device
	ContentType string    `db:"content_type"` // sniffed at ingest
	StoredAt    time.Time `db:"stored_at"`
}

// Clone returns a deep copy so callers never share the stored byte slice.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	clone := *img
	clone.Data = append([]byte(nil), img.Data...)
	return &clone
}
