// Package blob is the only entry point to blob storage for the rest of the
// module. It re-exports the core abstraction and selects a driver.
package blob

import (
	"context"
	"fmt"

	"tracecore/internal/blob/core"
	"tracecore/internal/infra/blob/fs"
	"tracecore/internal/infra/blob/memory"
	"tracecore/internal/infra/blob/s3"
)

type (
	// Store aliases core.Store.
	Store = core.Store
	// Info aliases core.Info.
	Info = core.Info
	// PutOptions aliases core.PutOptions.
	PutOptions = core.PutOptions
	// Driver aliases core.Driver.
	Driver = core.Driver
	// S3Config aliases the S3 driver configuration.
	S3Config = s3.Config
)

// Driver identifiers.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Sentinel errors shared by every driver.
var (
	ErrExists     = core.ErrExists
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey
)

// Config selects and parameterizes a driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store selected by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests returns an S3 store backed by an in-process transport.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
