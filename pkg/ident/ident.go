// Package ident generates random version-4 shaped identifiers used to name
// ephemeral nodes.
package ident

import (
	crand "crypto/rand"
	"encoding/hex"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Generator produces identifiers from a source it owns. The zero value is
// ready to use: it seeds a ChaCha8 source from crypto/rand on first use.
// A Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	src io.Reader
}

// NewGenerator returns a Generator seeded from crypto/rand on first use.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewGeneratorFromReader draws all randomness from r. Useful for
// reproducible names in tests.
func NewGeneratorFromReader(r io.Reader) *Generator {
	return &Generator{src: r}
}

// Generate returns a lowercase v4 identifier. With separators it has the
// 8-4-4-4-12 layout (36 characters), otherwise 32 hex digits.
func (g *Generator) Generate(includeSeparators bool) string {
	id := g.next()
	if includeSeparators {
		return id.String()
	}
	return hex.EncodeToString(id[:])
}

// NewString is Generate(true).
func (g *Generator) NewString() string {
	return g.Generate(true)
}

func (g *Generator) next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.src == nil {
		g.src = newSeededSource()
	}
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// Caller-supplied readers may run dry; the OS source never returns short.
		return uuid.Must(uuid.NewRandomFromReader(crand.Reader))
	}
	return id
}

func newSeededSource() io.Reader {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return crand.Reader
	}
	return rand.NewChaCha8(seed)
}
