// Package ref generates human-readable references such as
// TXN-MF1A2B3C-X9K2LQ. References are practically unique (timestamp plus
// random suffix); real uniqueness is enforced by the database constraint
// and callers retry on collision.
package ref

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const suffixLen = 6
const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generator produces references from an injected clock and RNG so output
// is reproducible in tests.
type Generator struct {
	now  func() time.Time
	rand *rand.Rand
}

func NewGenerator() *Generator {
	return &Generator{
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewGeneratorWith wires an explicit clock and RNG source.
func NewGeneratorWith(now func() time.Time, src rand.Source) *Generator {
	return &Generator{
		now:  now,
		rand: rand.New(src),
	}
}

// Generate returns "<PREFIX>-<base36 unix-ms>-<6 random base36 chars>",
// upper-cased.
func (g *Generator) Generate(prefix string) string {
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)

	suffix := make([]byte, suffixLen)
	for i := range suffix {
		suffix[i] = base36[g.rand.Intn(len(base36))]
	}

	return strings.ToUpper(prefix + "-" + ts + "-" + string(suffix))
}
