package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadRange reads up to length bytes from path starting at offset.
// Fewer bytes are returned only when the file ends before offset+length.
// A fresh handle is opened on every call, so no state is carried between
// reads of a file that another process is still appending to.
func ReadRange(path string, offset, length int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d: %w", offset, err)
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", length, offset, err)
	}

	return buf[:n], nil
}
