package retrypolicy

import "errors"

// StatusOf extracts an HTTP status code from an error chain, if any error in
// it carries one. Returns 0 when no status is available.
func StatusOf(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}
