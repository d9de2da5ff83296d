//go:build linux

package memory_map

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ParseMemoryMap parses the /proc/[pid]/maps format, e.g.
//
//	7f1c2a000000-7f1c2a022000 r-xp 00002000 08:01 1234 /usr/lib/libc.so.6
func ParseMemoryMap(r io.Reader) ([]MemoryMapItem, error) {
	var memoryMap []MemoryMapItem
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		// Parse address range (e.g., "00400000-0040b000")
		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			continue
		}

		startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}

		endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			continue
		}

		item := MemoryMapItem{
			Address: startAddr,
			Size:    uint(endAddr - startAddr),
			Perms:   fields[1],
		}

		if len(fields) > 2 {
			if offset, err := strconv.ParseUint(fields[2], 16, 64); err == nil {
				item.Offset = offset
			}
		}

		// The path may contain spaces; it starts at the sixth field
		if len(fields) > 5 {
			item.Path = strings.Join(fields[5:], " ")
		}

		memoryMap = append(memoryMap, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return memoryMap, nil
}
