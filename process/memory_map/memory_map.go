package memory_map

import (
	"fmt"
	"sort"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	Offset  uint64 // Offset of the region within the mapped file
	Path    string // Backing file, pseudo name ("[stack]") or empty for anonymous memory
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

// End returns the first address past the region
func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return len(mmItem.Perms) > 2 && mmItem.Perms[2] == 'x'
}

// IsFileBacked reports whether the region maps a file on disk
func (mmItem MemoryMapItem) IsFileBacked() bool {
	return len(mmItem.Path) > 0 && mmItem.Path[0] == '/'
}

// Sort orders the regions by start address, which Find requires
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// Find returns the region containing addr. memoryMap must be sorted by address.
func Find(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// ModuleBase returns the load address of the file mapped by item: the start
// of the first region in memoryMap mapping the same path, less its offset.
func ModuleBase(item *MemoryMapItem, memoryMap []MemoryMapItem) uint64 {
	for _, m := range memoryMap {
		if m.Path == item.Path {
			return m.Address - m.Offset
		}
	}
	return item.Address - item.Offset
}
