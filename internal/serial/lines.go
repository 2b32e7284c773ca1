package serial

import (
	"bufio"
	"bytes"
)

// splitOn returns a bufio.SplitFunc that ends a token at any byte in delims.
// Consecutive delimiters (CR LF) yield empty tokens, which callers drop.
func splitOn(delims string) bufio.SplitFunc {
	set := []byte(delims)
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexAny(data, string(set)); i >= 0 {
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
