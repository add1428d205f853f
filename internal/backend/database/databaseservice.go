package database

type DatabaseService interface {
	CreateDatabase() error
	DoesDatabaseExist() bool
	Close() error

	// ReplaceImage drops whatever image is stored and stores the given one in its place.
	// Implementations perform both halves as a single step so a reader never sees an empty
	// or half-written slot because of a replace.
	ReplaceImage(image *Image) error
	// GetImage returns the stored image, or (nil, nil) when the slot is empty.
	GetImage() (*Image, error)
	// DeleteImage empties the slot. Deleting an empty slot is not an error.
	DeleteImage() error
}
