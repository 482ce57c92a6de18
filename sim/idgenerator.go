package sim

import (
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	idGeneratorOnce sync.Once
	idGenerator     IDGenerator
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// GetIDGenerator returns the generator shared by the whole process. It
// counts from 1, so runs that ask for ids in the same order get the same ids.
func GetIDGenerator() IDGenerator {
	idGeneratorOnce.Do(func() {
		idGenerator = &sequentialIDGenerator{}
	})

	return idGenerator
}

// NewSequentialIDGenerator returns a private generator that counts from 1 and
// prefixes every id. It is used for ids that are part of the simulated
// protocol (pair ids, session ids) and therefore must be reproducible
// regardless of what else in the process asks for ids.
func NewSequentialIDGenerator(prefix string) IDGenerator {
	return &sequentialIDGenerator{prefix: prefix}
}

type sequentialIDGenerator struct {
	prefix string
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return g.prefix + strconv.FormatUint(idNumber, 10)
}
