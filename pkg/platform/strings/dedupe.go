// Package strings provides string manipulation utilities.
package strings

// AppendUnique appends value to dst unless it was seen before, recording it in
// seen. dst keeps first-appearance order; callers control ordering by the
// order they append in. Empty values are skipped.
//
// Output order must not depend on map iteration order; callers that need a
// stable ordering append in that order themselves.
func AppendUnique(dst []string, seen map[string]struct{}, value string) []string {
	if value == "" {
		return dst
	}
	if _, ok := seen[value]; ok {
		return dst
	}
	seen[value] = struct{}{}
	return append(dst, value)
}

// Dedupe removes duplicates and empty strings from a slice, preserving
// first-appearance order.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		result = AppendUnique(result, seen, v)
	}
	return result
}
