//go:build unix

package coredump

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile is a read-only private mapping of a whole file.
type mappedFile struct {
	f    *os.File
	data []byte
}

func mapFile(path string) (*mappedFile, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the host.
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%s is empty", path)
	}
	if int64(int(size)) != size {
		_ = f.Close()
		return nil, fmt.Errorf("%s is too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	return &mappedFile{f: f, data: data}, nil
}

// Close unmaps the file. Slices of data must not be used afterwards.
func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
