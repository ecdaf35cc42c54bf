//go:build !unix

package mmaparray

import "os"

// mapping on non-unix platforms (no golang.org/x/sys/unix mmap support
// wired here) falls back to reading the whole file into the process heap.
// Random access and the read-only contract are identical from the Array
// caller's point of view; only the residency/advise behavior differs.
type mapping struct {
	data []byte
}

func openMapping(path string, size int64) (mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mapping{}, err
	}
	return mapping{data: data}, nil
}

func (m mapping) bytes() []byte { return m.data }

func (m mapping) adviseWillNeed() error { return nil }

func (m mapping) close() error { return nil }
