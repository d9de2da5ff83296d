package process

import (
	"fmt"
)

// Address represents a memory address within a process or the kernel
type Address uint64

// String formats the address the way frame columns display pointers
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// ToString returns the upper-case hex form used in logs
func (a Address) ToString() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Size represents a size of memory region
type Size uint

func (s Size) ToString() string {
	return fmt.Sprintf("%d bytes", uint(s))
}

// DefaultUserModeLimit is the highest user-mode address on 64-bit Linux and Windows.
// Program counters above it belong to the kernel.
const DefaultUserModeLimit Address = 0x00007FFFFFFFFFFF

// IsKernelAddress reports whether addr lies above the user-mode limit
func IsKernelAddress(addr, userModeLimit Address) bool {
	return addr > userModeLimit
}

// UserModeLimitOrDefault returns limit, or DefaultUserModeLimit when limit is zero
func UserModeLimitOrDefault(limit Address) Address {
	if limit == 0 {
		return DefaultUserModeLimit
	}
	return limit
}
