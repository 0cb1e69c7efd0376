package chat

import "strings"

// Sanitize makes an identifier safe to use as a single store path segment.
// '.' is the path separator there, so it becomes ','. Email addresses never
// contain ',', which keeps the mapping injective for them.
func Sanitize(id string) string {
	return strings.ReplaceAll(id, ".", ",")
}

// DirectionalKeys returns the two keys a conversation between a and b is
// written under: "a_b" and "b_a", each side sanitized.
func DirectionalKeys(a, b string) (ab, ba string) {
	sa, sb := Sanitize(a), Sanitize(b)
	return sa + "_" + sb, sb + "_" + sa
}
