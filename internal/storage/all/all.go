// Package all registers every storage backend.
package all

import (
	_ "songetl/internal/storage/mssql"
	_ "songetl/internal/storage/postgres"
	_ "songetl/internal/storage/sqlite"
)
