package ordered

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Scrambler is a keyed xxh3 over a single 64-bit word. Each table carries
// its own Scrambler inside its storage block, so hashes derived from
// addresses or ids do not leak across tables and cannot be flooded.
type Scrambler struct {
	k0, k1 uint64
}

// NewScrambler returns a Scrambler with the given key.
func NewScrambler(k0, k1 uint64) Scrambler {
	return Scrambler{k0: k0, k1: k1}
}

// RandomScrambler returns a Scrambler keyed from crypto/rand.
func RandomScrambler() Scrambler {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("ordered: cannot seed hash scrambler: " + err.Error())
	}
	return Scrambler{
		k0: binary.LittleEndian.Uint64(buf[:8]),
		k1: binary.LittleEndian.Uint64(buf[8:]),
	}
}

// Scramble hashes h under the scrambler's key. k0 seeds xxh3 and k1 is
// mixed into the message.
func (s *Scrambler) Scramble(h uint64) HashNumber {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], h)
	binary.LittleEndian.PutUint64(buf[8:], s.k1)
	x := xxh3.HashSeed(buf[:], s.k0)
	return HashNumber(x ^ x>>32)
}
