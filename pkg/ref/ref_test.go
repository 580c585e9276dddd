package ref

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refPattern = regexp.MustCompile(`^TXN-[0-9A-Z]+-[0-9A-Z]{6}$`)

func TestGenerator_Generate(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		g := NewGenerator()
		r := g.Generate("TXN")
		assert.Regexp(t, refPattern, r)
	})

	t.Run("encodes the injected clock", func(t *testing.T) {
		at := time.UnixMilli(1700000000000)
		g := NewGeneratorWith(func() time.Time { return at }, rand.NewSource(1))

		r := g.Generate("ESC")
		parts := strings.Split(r, "-")
		require.Len(t, parts, 3)
		assert.Equal(t, "ESC", parts[0])

		ms, err := strconv.ParseInt(strings.ToLower(parts[1]), 36, 64)
		require.NoError(t, err)
		assert.Equal(t, at.UnixMilli(), ms)
	})

	t.Run("deterministic with a fixed seed", func(t *testing.T) {
		at := time.UnixMilli(1700000000000)
		a := NewGeneratorWith(func() time.Time { return at }, rand.NewSource(42))
		b := NewGeneratorWith(func() time.Time { return at }, rand.NewSource(42))
		assert.Equal(t, a.Generate("TXN"), b.Generate("TXN"))
	})

	t.Run("random suffix differs across calls", func(t *testing.T) {
		g := NewGenerator()
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			r := g.Generate("TXN")
			assert.False(t, seen[r], "duplicate reference %s", r)
			seen[r] = true
		}
	})
}
