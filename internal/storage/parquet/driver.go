package parquet

import (
	"github.com/xtxerr/rastercalc/internal/raster"
)

// Driver implements raster.Driver for the native raster format.
type Driver struct {
	cache *raster.BlockCache
	opts  Options
}

// NewDriver creates a driver sharing cache across every dataset it opens.
// A nil cache disables block caching.
func NewDriver(cache *raster.BlockCache, opts Options) *Driver {
	return &Driver{cache: cache, opts: opts}
}

// Open opens an existing raster.
func (d *Driver) Open(path string) (raster.Dataset, error) {
	return NewRasterReader(path, d.cache)
}

// Create starts a new raster at path.
func (d *Driver) Create(path string, info raster.Info) (raster.Writer, error) {
	return NewRasterWriter(path, info, d.opts, d.cache)
}

// Cache returns the shared block cache.
func (d *Driver) Cache() *raster.BlockCache {
	return d.cache
}

var _ raster.Driver = (*Driver)(nil)
