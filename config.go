package tslab

import "github.com/blackwell-systems/temporal-slab/internal/obs"

// Config resolves build-time allocator toggles into runtime fields, the
// way HybridAllocator resolves an AllocFlags bitmask and LoggerConfig
// resolves logging options elsewhere in this stack — not a YAML/env
// loader, just an explicit struct with a constructor.
//
// Start from DefaultConfig() and override individual fields; a bare
// Config{} has every bool toggle off, including reclamation and
// adaptive scan.
type Config struct {
	// PageSize is the slab page size in bytes. Must be a positive
	// multiple large enough to hold at least one object of the largest
	// class. Default 4096.
	PageSize int

	// EpochCount is the epoch ring size; must be a power of two. Default
	// 16.
	EpochCount int

	// ClassSizes is the ascending size-class boundary table. Default is
	// defaultClassSizes.
	ClassSizes []uint32

	// EnableRSSReclamation toggles whether cache_push issues the
	// physical-page reclaim syscall. Default true.
	EnableRSSReclamation bool

	// EnableDiagnosticCounters toggles the optional committed-bytes,
	// live-objects and empty-slabs counters in ClassStats. Default true; set false to shave the
	// handful of extra atomics those counters cost on hot paths.
	EnableDiagnosticCounters bool

	// EnableAdaptiveScan toggles the bitmap scan controller's ability to
	// switch into randomized mode under contention. Default true.
	EnableAdaptiveScan bool

	Logger *obs.Logger
}

// DefaultConfig returns the configuration used by New when no override
// is supplied.
func DefaultConfig() Config {
	return Config{
		PageSize:                 4096,
		EpochCount:               16,
		ClassSizes:               defaultClassSizes,
		EnableRSSReclamation:     true,
		EnableDiagnosticCounters: true,
		EnableAdaptiveScan:       true,
		Logger:                   obs.Default("tslab"),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.EpochCount <= 0 {
		c.EpochCount = d.EpochCount
	}
	if len(c.ClassSizes) == 0 {
		c.ClassSizes = d.ClassSizes
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
