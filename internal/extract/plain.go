package extract

import (
	"unicode/utf8"
)

// extractPlain returns content as string. A UTF-8 BOM is dropped.
// Returns ErrInvalidEncoding when the content is not valid UTF-8.
func extractPlain(content []byte) (string, error) {
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		content = content[3:]
	}
	if !utf8.Valid(content) {
		return "", ErrInvalidEncoding
	}
	return string(content), nil
}
