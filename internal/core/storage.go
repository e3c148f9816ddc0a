package core

import (
	"fmt"
	"os"

	"certcore/internal/infra/persistence/file"
	"certcore/internal/infra/persistence/memory"
	"certcore/internal/infra/persistence/postgres"
	"certcore/internal/infra/persistence/sqlite"
	"certcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageFile     StorageDriver = "file"     // JSON snapshot file (default)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to the JSON file driver when unset.
//
//	CERTCORE_STORAGE_DRIVER: memory|file|sqlite|postgres (default file)
//	CERTCORE_DATA_PATH: path to the JSON snapshot (default data/certcore.json)
//	CERTCORE_SQLITE_PATH: path to the sqlite file (default certcore.db)
//	CERTCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("CERTCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageFile)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageFile:
		return file.NewStore(os.Getenv("CERTCORE_DATA_PATH"), engine)
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("CERTCORE_SQLITE_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("CERTCORE_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
