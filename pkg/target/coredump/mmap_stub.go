//go:build !unix

package coredump

import (
	"fmt"
	"os"
)

// mappedFile holds the whole file in memory where mmap is unavailable.
type mappedFile struct {
	data []byte
}

func mapFile(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the host.
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) Close() error {
	m.data = nil
	return nil
}
