package common

// Section permission bits, as reported in summaries.
const (
	PERM_READ    = 0x4
	PERM_WRITE   = 0x2
	PERM_EXECUTE = 0x1
)

// PermissionBits folds section access flags into PERM_* bits.
func PermissionBits(executable, readable, writable bool) int {
	bits := 0
	if readable {
		bits |= PERM_READ
	}
	if writable {
		bits |= PERM_WRITE
	}
	if executable {
		bits |= PERM_EXECUTE
	}
	return bits
}
