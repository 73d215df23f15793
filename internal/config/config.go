// Package config holds the startup options of spec §6. It mirrors
// biscuit's limits.Syslimit_t: a plain struct of tunables populated once at
// startup and read thereafter without further locking.
package config

import "fmt"

// VadMode names a commit/reserve mode for new VADs. It is parsed and
// stored in Config only; System.CreateVAD does not consult it, and every
// caller passes isCommit explicitly for each VAD.
type VadMode int

const (
	// ModeCommit names commit semantics (pages charged up front).
	ModeCommit VadMode = iota
	// ModeReserve names reserve semantics (committed later by CommitVA).
	ModeReserve
	// ModeMixed names a per-VAD choice.
	ModeMixed
)

func (m VadMode) String() string {
	switch m {
	case ModeCommit:
		return "commit"
	case ModeReserve:
		return "reserve"
	case ModeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ParseVadMode parses the --vad-mode flag value.
func ParseVadMode(s string) (VadMode, error) {
	switch s {
	case "commit":
		return ModeCommit, nil
	case "reserve":
		return ModeReserve, nil
	case "mixed":
		return ModeMixed, nil
	default:
		return 0, fmt.Errorf("unknown vad mode %q", s)
	}
}

// Config is the full set of compile-time/startup options from spec §6.
type Config struct {
	// PhysicalFrames is the count of frames requested from the host
	// allocator.
	PhysicalFrames int
	// PagefileSlots is the capacity of the backing store, in pages.
	PagefileSlots int
	// VMMultiplier: VA range = PhysicalFrames * this.
	VMMultiplier int
	// NumThreads sizes the scratch-VA pool (NumThreads plus a small
	// constant). It does not set the worker count: the worker group
	// always starts exactly one zeroer, one modified writer, and one
	// ager/trimmer.
	NumThreads int
	// PagesPerLock is the PTE stripe width (K in spec §4.D).
	PagesPerLock int
	// MinAvailable is the low-water mark for trimming.
	MinAvailable int
	// VadMode records the --vad-mode flag; see VadMode for how little
	// it affects.
	VadMode VadMode
	// Verbose enables debug prints.
	Verbose bool
}

// Default returns the configuration used when no flags override it.
func Default() Config {
	return Config{
		PhysicalFrames: 1 << 12, // 4K pages, 16MB of "physical" memory
		PagefileSlots:  1 << 14, // 64MB of pagefile
		VMMultiplier:   8,
		NumThreads:     4,
		PagesPerLock:   64,
		MinAvailable:   256,
		VadMode:        ModeMixed,
		Verbose:        false,
	}
}

// VAPages returns the number of page-sized virtual slots reserved for the
// emulated address space.
func (c Config) VAPages() int {
	return c.PhysicalFrames * c.VMMultiplier
}

// MemoryLimit is spec §3's "memoryLimit = physicalFrames + pagefileSlots".
func (c Config) MemoryLimit() int64 {
	return int64(c.PhysicalFrames) + int64(c.PagefileSlots)
}

// Validate rejects nonsensical configurations before startup proceeds.
func (c Config) Validate() error {
	if c.PhysicalFrames <= 0 {
		return fmt.Errorf("physicalFrames must be positive")
	}
	if c.PagefileSlots < 0 {
		return fmt.Errorf("pagefileSlots must not be negative")
	}
	if c.VMMultiplier <= 0 {
		return fmt.Errorf("vmMultiplier must be positive")
	}
	if c.NumThreads <= 0 {
		return fmt.Errorf("numThreads must be positive")
	}
	if c.PagesPerLock <= 0 {
		return fmt.Errorf("pagesPerLock must be positive")
	}
	if c.MinAvailable < 0 {
		return fmt.Errorf("minAvailable must not be negative")
	}
	return nil
}
