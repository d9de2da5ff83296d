//go:build !linux

package coloransi

// IsTerminal reports false where terminal detection is not implemented
func IsTerminal(fd uintptr) bool {
	return false
}
