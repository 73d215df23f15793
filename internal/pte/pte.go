// Package pte implements spec §3's PTE tagged union and spec §4.D's PTE
// table and stripe locks. A PTE is a 64-bit value type, "it must remain a
// POD-equivalent value type to permit one-instruction publication" (spec
// §9), never a pointer or interface, so that WritePTE's atomic store is a
// single machine word write. The bit layout is fixed (spec §6: "byte-stable
// across build configurations") so the change log in internal/diag stays
// interpretable.
package pte

// PTE is the 64-bit tagged union described in spec §3. Bit layout,
// low to high:
//
//	bit  0       valid
//	bit  1       transition
//	bits 2-4     permissions (Perm)
//	bit  5       write bit   (Hardware layout only)
//	bit  6       execute bit (Hardware layout only)
//	bit  7       dirty bit   (Hardware layout only)
//	bit  8       aging bit   (Hardware layout only)
//	bit  9       decommit bit (Demand-zero layout only)
//	bits 12-63   frame number or pagefile slot index (52 bits)
type PTE uint64

const (
	bitValid      = 0
	bitTransition = 1
	bitPermLo     = 2
	bitWrite      = 5
	bitExecute    = 6
	bitDirty      = 7
	bitAging      = 8
	bitDecommit   = 9
	bitIndexLo    = 12

	permMask  = uint64(0x7) << bitPermLo
	indexMask = ^uint64(0) << bitIndexLo
)

// NoIndex is the sentinel for "no frame / no pagefile slot".
const NoIndex uint32 = 1<<20 - 1 // the table's index space never grows this large in a user-space emulator

// Zero is the all-zero PTE: uncommitted within a reserve VAD, or
// committed-but-decommitted within a commit VAD (spec §3 "Zero PTE").
const Zero PTE = 0

func bit(v PTE, n uint) bool { return v&(1<<n) != 0 }

func setBit(v PTE, n uint, on bool) PTE {
	if on {
		return v | (1 << n)
	}
	return v &^ (1 << n)
}

// Valid reports the hardware-valid bit.
func (p PTE) Valid() bool { return bit(p, bitValid) }

// Transition reports the transition bit.
func (p PTE) Transition() bool { return bit(p, bitTransition) }

// Permissions extracts the 3-bit permission field.
func (p PTE) Permissions() Perm {
	return Perm((uint64(p) & permMask) >> bitPermLo)
}

// Write reports the hardware write bit (Valid layout only).
func (p PTE) Write() bool { return bit(p, bitWrite) }

// Execute reports the hardware execute bit (Valid layout only).
func (p PTE) Execute() bool { return bit(p, bitExecute) }

// Dirty reports the hardware dirty bit (Valid layout only).
func (p PTE) Dirty() bool { return bit(p, bitDirty) }

// Aging reports the second-chance aging bit (Valid layout only).
func (p PTE) Aging() bool { return bit(p, bitAging) }

// DecommitBit reports the decommit-marked bit (Demand-zero layout only).
func (p PTE) DecommitBit() bool { return bit(p, bitDecommit) }

// Index returns the frame number (Valid/Transition layouts) or pagefile
// slot (Pagefile layout) packed into the high bits.
func (p PTE) Index() uint32 {
	return uint32(uint64(p) >> bitIndexLo)
}

// HasIndex reports whether Index() names a real frame/slot.
func (p PTE) HasIndex() bool { return p.Index() != NoIndex }

// IsPagefile reports the Pagefile layout: not valid, not in transition,
// has real permissions, and names a slot.
func (p PTE) IsPagefile() bool {
	return !p.Valid() && !p.Transition() && p.Permissions() != NoAccess && p.HasIndex()
}

// IsDemandZero reports the Demand-zero layout: not valid, not in
// transition, has real permissions, and names no slot.
func (p PTE) IsDemandZero() bool {
	return !p.Valid() && !p.Transition() && p.Permissions() != NoAccess && !p.HasIndex()
}

// IsDecommitMarked reports a decommit-marked PTE within a commit VAD:
// decommitBit=1, no slot, NoAccess permissions.
func (p PTE) IsDecommitMarked() bool {
	return !p.Valid() && !p.Transition() && p.Permissions() == NoAccess && p.DecommitBit()
}

// IsZero reports the all-zero PTE.
func (p PTE) IsZero() bool { return p == Zero }

func withIndex(base PTE, idx uint32) PTE {
	return (base &^ PTE(indexMask)) | PTE(uint64(idx)<<bitIndexLo)
}

// MakeHardware builds a Valid PTE naming pfn with the given permission and
// dirty/aging bits.
func MakeHardware(pfn uint32, perm Perm, dirty, aging bool) PTE {
	v := PTE(1 << bitValid)
	v |= PTE(uint64(perm) << bitPermLo)
	if perm.Writable() {
		v = setBit(v, bitWrite, true)
	}
	if perm.Executable() {
		v = setBit(v, bitExecute, true)
	}
	v = setBit(v, bitDirty, dirty)
	v = setBit(v, bitAging, aging)
	return withIndex(v, pfn)
}

// WithDirty returns p with the dirty bit set/cleared (Valid layout).
func (p PTE) WithDirty(dirty bool) PTE { return setBit(p, bitDirty, dirty) }

// WithAging returns p with the aging bit set/cleared (Valid layout).
func (p PTE) WithAging(aging bool) PTE { return setBit(p, bitAging, aging) }

// WithPermissions returns p with its permission field replaced, preserving
// the other bits and index.
func (p PTE) WithPermissions(perm Perm) PTE {
	v := (p &^ PTE(permMask)) | PTE(uint64(perm)<<bitPermLo)
	if p.Valid() {
		v = setBit(v, bitWrite, perm.Writable())
		v = setBit(v, bitExecute, perm.Executable())
	}
	return v
}

// MakeTransition builds a Transition PTE naming the frame still holding the
// page's contents, with the permissions it had while Valid.
func MakeTransition(pfn uint32, perm Perm) PTE {
	v := PTE(1 << bitTransition)
	v |= PTE(uint64(perm) << bitPermLo)
	return withIndex(v, pfn)
}

// MakePagefile builds a Pagefile PTE naming the backing-store slot holding
// the page's contents.
func MakePagefile(slot uint32, perm Perm) PTE {
	if perm == NoAccess {
		panic("pte: pagefile PTE must have real permissions")
	}
	v := PTE(uint64(perm) << bitPermLo)
	return withIndex(v, slot)
}

// MakeDemandZero builds a Demand-zero PTE with the given permissions and no
// backing frame or slot.
func MakeDemandZero(perm Perm) PTE {
	if perm == NoAccess {
		panic("pte: demand-zero PTE must have real permissions")
	}
	v := PTE(uint64(perm) << bitPermLo)
	return withIndex(v, NoIndex)
}

// MakeDecommitMarked builds the decommit-marked PTE used inside a commit
// VAD after decommitVA (spec §4.I): decommitBit=1, slot=invalid,
// permissions=NoAccess.
func MakeDecommitMarked() PTE {
	v := PTE(1 << bitDecommit)
	return withIndex(v, NoIndex)
}

