//go:build linux

package process_linux

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"stacksnap/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process
func process_vm_readv(
	pid process.ProcessID,
	localBuf []byte,
	remoteAddr process.Address,
	bytesToRead process.Size,
) ([]byte, error) {
	if bytesToRead == 0 {
		return nil, nil
	}

	// Allocate a buffer if one wasn't provided
	if localBuf == nil || len(localBuf) != int(bytesToRead) {
		localBuf = make([]byte, bytesToRead)
	}

	// Create iovec for local buffer
	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(bytesToRead),
	}

	// Create iovec for remote buffer
	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(bytesToRead),
	}

	// Call process_vm_readv
	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	// Check for errors
	if errno != 0 {
		if errno == unix.EPERM || errno == unix.EACCES {
			return nil, fmt.Errorf("process_vm_readv %d: %w", pid, process.ErrAccessDenied)
		}
		if errno == unix.EFAULT {
			return nil, fmt.Errorf("process_vm_readv %d at %s: %w", pid, remoteAddr, process.ErrAddressNotMapped)
		}
		return nil, fmt.Errorf("process_vm_readv failed: %s (errno: %d)", errno.Error(), errno)
	}

	// A partial read returns what was read; callers work on whole words
	return localBuf[:n], nil
}

// readWords reads count pointer sized little endian words starting at addr
func readWords(pid process.ProcessID, addr process.Address, count int) ([]process.Address, error) {
	data, err := process_vm_readv(pid, nil, addr, process.Size(count*wordSize))
	if err != nil {
		return nil, err
	}
	return decodeWords(data), nil
}

const wordSize = 8

func decodeWords(data []byte) []process.Address {
	words := make([]process.Address, len(data)/wordSize)
	for i := range words {
		words[i] = process.Address(binary.LittleEndian.Uint64(data[i*wordSize:]))
	}
	return words
}
