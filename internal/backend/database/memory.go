package database

import "sync"

// MemoryDatabase keeps the slot in process memory. Nothing survives a restart.
type MemoryDatabase struct {
	mu    sync.RWMutex
	image *Image
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{}
}

func (m *MemoryDatabase) CreateDatabase() error {
	return nil
}

func (m *MemoryDatabase) DoesDatabaseExist() bool {
	return true
}

func (m *MemoryDatabase) Close() error {
	return m.DeleteImage()
}

func (m *MemoryDatabase) ReplaceImage(image *Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = image.Clone()
	return nil
}

func (m *MemoryDatabase) GetImage() (*Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.image.Clone(), nil
}

func (m *MemoryDatabase) DeleteImage() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = nil
	return nil
}
