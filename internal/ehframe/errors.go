package ehframe

import "errors"

// All errors are package-level sentinels: stepping happens in contexts where
// constructing an error value would allocate.
var (
	// ErrNotFound means no call-frame information covers the pc. Walks
	// treat it as the natural end of the stack.
	ErrNotFound = errors.New("no unwind info covers pc")
	// ErrUnreadable means a load touched memory outside the readable
	// ranges recorded when the module index was built.
	ErrUnreadable = errors.New("address outside readable memory")
	// ErrMalformed covers structurally broken unwind info: bad lengths,
	// truncated entries, expression stack misuse.
	ErrMalformed = errors.New("malformed unwind info")
	// ErrBadEncoding means a pointer encoding this decoder does not
	// implement.
	ErrBadEncoding = errors.New("unsupported pointer encoding")
	// ErrBadRegister means a CFI rule named a register column beyond what
	// any ABI defines.
	ErrBadRegister = errors.New("register number out of range")
	// ErrNoCFA means the row for the pc never defined a canonical frame
	// address, so no caller state can be derived.
	ErrNoCFA = errors.New("no CFA rule for pc")
	// ErrRASigned means the return address carries an arm64 pointer
	// authentication signature this module does not strip.
	ErrRASigned = errors.New("return address is pointer-authentication signed")
)
