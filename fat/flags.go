package fat

// IOFlags controls the behavior of Manager.Open (spec §6's open(path, flags)
// collaborator). Bitmask constants in the teacher's 1<<iota style, with
// Can*() predicate methods instead of raw bit tests at call sites.
type IOFlags uint32

const (
	IOFlagRead IOFlags = 1 << iota
	IOFlagWrite
	IOFlagCreate
	IOFlagTruncate
	IOFlagAppend
)

func (f IOFlags) CanRead() bool     { return f&IOFlagRead != 0 }
func (f IOFlags) CanWrite() bool    { return f&IOFlagWrite != 0 }
func (f IOFlags) CanCreate() bool   { return f&IOFlagCreate != 0 }
func (f IOFlags) CanTruncate() bool { return f&IOFlagTruncate != 0 }
func (f IOFlags) CanAppend() bool   { return f&IOFlagAppend != 0 }

// MountFlags controls how Attach treats a volume once opened.
type MountFlags uint32

const (
	MountFlagReadOnly MountFlags = 1 << iota
)

func (f MountFlags) CanWrite() bool { return f&MountFlagReadOnly == 0 }
