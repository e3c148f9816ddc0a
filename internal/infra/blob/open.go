// Package blob selects and opens a blob storage backend from the process
// environment.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"certcore/internal/blob/core"
	"certcore/internal/infra/blob/fs"
	"certcore/internal/infra/blob/memory"
	"certcore/internal/infra/blob/s3"
)

// Environment variables:
//   CERTCORE_BLOB_DRIVER=fs|memory|s3 (default fs)
//   CERTCORE_BLOB_FS_ROOT=<dir> (fs driver, default "backups")
//   CERTCORE_BLOB_S3_* (see the s3 package)

// Open returns the blob store selected by CERTCORE_BLOB_DRIVER.
func Open(ctx context.Context) (core.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("CERTCORE_BLOB_DRIVER")))
	switch core.Driver(driver) {
	case core.DriverFilesystem, "":
		return fs.New(os.Getenv("CERTCORE_BLOB_FS_ROOT"))
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		return s3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
