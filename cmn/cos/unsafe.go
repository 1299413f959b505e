package cos

import "unsafe"

// UnsafeB converts string to a byte slice without memory allocation; the caller must
// not mutate the returned slice (it aliases the string's backing array).
func UnsafeB(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// UnsafeS converts byte slice to a string without memory allocation; the caller must
// not mutate b afterward.
func UnsafeS(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
