// Package handle implements the portable, opaque 64-bit object handle.
// No raw pointer bits ever appear in a Handle; validity is mediated
// entirely by the registry generation.
package handle

import "fmt"

// Bit widths. Chosen so the four fields plus the version tag pack exactly
// into 64 bits: 22 (slab id) + 20 (generation) + 10 (slot) + 6 (class) + 6
// (version) = 64. Ten slot bits (1023 max) are required because the
// smallest size class (8-byte objects in a 4KiB page) has 512 slots,
// which does not fit in 8 bits; the six spare bits freed up by that
// choice go to a version tag wide enough to survive several future
// handle-layout revisions.
const (
	SlabIDBits   = 22
	GenBits      = 20
	SlotBits     = 10
	ClassBits    = 6
	VersionBits  = 6
	TotalBits    = SlabIDBits + GenBits + SlotBits + ClassBits + VersionBits
	MaxSlabID    = (1 << SlabIDBits) - 1
	MaxGen       = (1 << GenBits) - 1
	MaxSlot      = (1 << SlotBits) - 1
	MaxClass     = (1 << ClassBits) - 1
	MaxVersion   = (1 << VersionBits) - 1
	CurrentVer   = 1
	slabIDShift  = 0
	genShift     = slabIDShift + SlabIDBits
	slotShift    = genShift + GenBits
	classShift   = slotShift + SlotBits
	versionShift = classShift + ClassBits
)

func init() {
	if TotalBits != 64 {
		panic("handle: field widths must sum to 64 bits")
	}
}

// Handle is the opaque reference returned by Allocate and consumed by
// Free. It carries no meaning outside this package and the registry that
// validates it.
type Handle uint64

// Pack encodes a handle. It rejects any field wider than its allotted
// bits so a corrupt or forged handle can never be constructed internally.
func Pack(slabID, gen, slot, class uint32) (Handle, error) {
	if slabID > MaxSlabID {
		return 0, fmt.Errorf("handle: slab id %d exceeds %d bits", slabID, SlabIDBits)
	}
	if gen > MaxGen {
		return 0, fmt.Errorf("handle: generation %d exceeds %d bits", gen, GenBits)
	}
	if slot > MaxSlot {
		return 0, fmt.Errorf("handle: slot %d exceeds %d bits", slot, SlotBits)
	}
	if class > MaxClass {
		return 0, fmt.Errorf("handle: class %d exceeds %d bits", class, ClassBits)
	}
	h := uint64(slabID)<<slabIDShift |
		uint64(gen)<<genShift |
		uint64(slot)<<slotShift |
		uint64(class)<<classShift |
		uint64(CurrentVer)<<versionShift
	return Handle(h), nil
}

// Fields holds the unpacked, validated contents of a Handle.
type Fields struct {
	SlabID  uint32
	Gen     uint32
	Slot    uint32
	Class   uint32
	Version uint32
}

// Unpack decodes h and rejects an unrecognized version tag. It performs no
// registry lookup — a Handle with a valid version but a stale generation
// unpacks successfully and is rejected later by the registry.
func (h Handle) Unpack() (Fields, error) {
	v := uint32(h>>versionShift) & MaxVersion
	if v != CurrentVer {
		return Fields{}, fmt.Errorf("handle: unrecognized version %d", v)
	}
	return Fields{
		SlabID: uint32(h>>slabIDShift) & MaxSlabID,
		Gen:    uint32(h>>genShift) & MaxGen,
		Slot:   uint32(h>>slotShift) & MaxSlot,
		Class:  uint32(h>>classShift) & MaxClass,
		Version: v,
	}, nil
}
