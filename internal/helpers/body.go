package helpers

import (
	"fmt"
	"io"
)

// ReadLimitedAndClose reads at most limit bytes from r and closes it. A
// non-positive limit reads everything.
func ReadLimitedAndClose(r io.ReadCloser, limit int64) ([]byte, error) {
	defer r.Close()
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
