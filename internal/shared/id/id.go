// Package id provides identifier allocation for the kernel.
//
// Two kinds of identifiers exist:
//   - App ids: human readable "<kind>_<n>" strings allocated from a per-kernel
//     Sequence. They are never reused for the lifetime of that kernel.
//   - Run ids: ULIDs naming one kernel instance, handed to app hosts so their
//     logs can be correlated with the kernel that spawned them.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// RunPrefix prefixes kernel run ids.
const RunPrefix = "run"

// ============================================================================
// App ID Sequence
// ============================================================================

// Sequence allocates unique app ids. The zero value is ready to use.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next id for kind, e.g. "dvd_3".
func (s *Sequence) Next(kind string) string {
	return fmt.Sprintf("%s_%d", Slug(kind), s.n.Add(1))
}

// Count returns how many ids have been allocated.
func (s *Sequence) Count() uint64 {
	return s.n.Load()
}

// Slug lowercases kind and replaces anything outside [a-z0-9] with '-'.
func Slug(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "app"
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// NewRunID creates a prefixed run id
func (g *Generator) NewRunID() string {
	return fmt.Sprintf("%s_%s", RunPrefix, g.Generate().String())
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
