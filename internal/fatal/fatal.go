// Package fatal implements the module's single abort path.
//
// The design this module implements (§7) has exactly three failure
// kinds: out-of-memory (not fatal, surfaced as a value), and two
// "invalid free" / "free into unswept span" conditions plus general
// consistency-check violations, which are fatal — an allocator bug
// means the heap is already corrupt and there is no local recovery.
//
// Abort panics, like the teacher's own throw() calls, but first
// fingerprints the diagnostic payload with blake2b so that repeated
// occurrences of the same invariant violation across a fleet can be
// deduplicated by fingerprint in crash-aggregation tooling.
package fatal

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Fields is an unordered set of diagnostic key/value pairs attached to
// an abort. Keys are sorted before hashing and printing so the
// fingerprint is stable regardless of map iteration order.
type Fields map[string]any

// Abort reports reason and fields to stderr with a short fingerprint,
// then panics. It never returns.
func Abort(reason string, fields Fields) {
	fp := fingerprint(reason, fields)
	fmt.Fprintf(os.Stderr, "centralfree: fatal: %s [fp=%s]\n", reason, fp)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(os.Stderr, "  %s=%v\n", k, fields[k])
	}
	panic(fmt.Sprintf("centralfree: %s [fp=%s]", reason, fp))
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fingerprint hashes reason plus the sorted field values with blake2b
// and returns the first 8 bytes as hex. It is a diagnostic aid only:
// it never influences control flow.
func fingerprint(reason string, fields Fields) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// blake2b.New only fails for an invalid key/size, which never
		// happens with this constant size; keep a deterministic
		// fallback rather than letting the abort path itself panic
		// with an opaque error.
		return "unavailable"
	}
	h.Write([]byte(reason))
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(h, "|%s=%v", k, fields[k])
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:8])
}
