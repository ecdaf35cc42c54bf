//go:build unix

package mmaparray

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapping is the platform-specific memory region backing an Array.
type mapping struct {
	data []byte
}

func openMapping(path string, size int64) (mapping, error) {
	if size == 0 {
		return mapping{data: nil}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return mapping{}, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return mapping{}, fmt.Errorf("unix mmap: %w", err)
	}
	return mapping{data: data}, nil
}

func (m mapping) bytes() []byte { return m.data }

func (m mapping) adviseWillNeed() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Madvise(m.data, unix.MADV_WILLNEED)
}

func (m mapping) close() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Munmap(m.data)
}
