package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Note: journal segments are single-writer during normal operation, with
// readers only during startup replay. These helpers do not coordinate
// concurrent writers and readers.

// Write appends bytes to the given open segment. Caller owns file lifecycle.
func Write(file *os.File, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Read reads up to length bytes starting at offset. A short result means the
// segment ended before length bytes were available.
func Read(file *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read at %d: %w", offset, err)
	}
	return buf[:n], nil
}
