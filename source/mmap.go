package source

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a ByteSource backed by a read-only memory mapping of a file.
// Empty files cannot be mapped and are served from an empty buffer.
type Mapped struct {
	file *os.File
	data mmap.MMap
	name string
}

// Open maps the named file read-only. The caller must Close the result.
func Open(path string) (*Mapped, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	fileInfo, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !fileInfo.Mode().IsRegular() {
		_ = file.Close()
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	m := &Mapped{file: file, name: path}
	if fileInfo.Size() == 0 {
		return m, nil
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to map file: %w", err)
	}
	m.data = data
	return m, nil
}

func (m *Mapped) Name() string {
	return m.name
}

func (m *Mapped) Size() uint64 {
	return uint64(len(m.data))
}

func (m *Mapped) Slice(offset uint64, maxLen int) []byte {
	return sliceOf(m.data, offset, maxLen)
}

// Close unmaps the file and closes its descriptor.
func (m *Mapped) Close() error {
	var errs []error
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmap: %w", err))
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close file: %w", err))
		}
		m.file = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
