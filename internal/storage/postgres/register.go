package postgres

import "songetl/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
