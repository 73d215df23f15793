package pte

// Perm is the 3-bit permission encoding of spec §3.
type Perm uint8

const (
	NoAccess Perm = iota
	R
	RW
	RX
	RWX
)

// table lookup for the R/W/X masks, as spec §3 specifies ("masks for
// R/W/X are derived by table lookup").
var permTable = [...]struct{ r, w, x bool }{
	NoAccess: {false, false, false},
	R:        {true, false, false},
	RW:       {true, true, false},
	RX:       {true, false, true},
	RWX:      {true, true, true},
}

// Readable reports whether this permission allows reads.
func (p Perm) Readable() bool { return permTable[p].r }

// Writable reports whether this permission allows writes.
func (p Perm) Writable() bool { return permTable[p].w }

// Executable reports whether this permission allows execution.
func (p Perm) Executable() bool { return permTable[p].x }

// Covers reports whether p grants at least the access req requires.
func (p Perm) Covers(req Perm) bool {
	t := permTable[req]
	pt := permTable[p]
	if t.r && !pt.r {
		return false
	}
	if t.w && !pt.w {
		return false
	}
	if t.x && !pt.x {
		return false
	}
	return true
}

func (p Perm) String() string {
	switch p {
	case NoAccess:
		return "---"
	case R:
		return "r--"
	case RW:
		return "rw-"
	case RX:
		return "r-x"
	case RWX:
		return "rwx"
	default:
		return "???"
	}
}
