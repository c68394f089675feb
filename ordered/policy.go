package ordered

import (
	"math"

	"github.com/zeebo/xxh3"
)

// HashNumber is the 32-bit hash a Policy produces for a key.
type HashNumber uint32

// goldenRatio spreads hash bits before the bucket index is taken from the
// high bits.
const goldenRatio HashNumber = 0x9E3779B9

func scrambleHashCode(h HashNumber) HashNumber {
	return h * goldenRatio
}

// Policy describes how a table hashes, compares and tombstones keys of type
// K. Policies are type parameters of Table, so calls are resolved at compile
// time rather than through an interface value per key.
//
// Match must report false whenever key is the empty marker, and Hash must
// be stable for a key for as long as it is in a table: RekeyOneEntry relies
// on recomputing the hash the entry was inserted with.
type Policy[K any] interface {
	Hash(lookup K, s *Scrambler) HashNumber
	Match(key, lookup K) bool
	IsEmpty(key K) bool
	MakeEmpty(key *K)
}

// Strings is the Policy for string keys. The string EmptyString is reserved
// as the tombstone marker and may not be inserted.
type Strings struct{}

// EmptyString is the tombstone marker used by Strings.
const EmptyString = "\xff\xfe\x00ordered:empty"

func (Strings) Hash(lookup string, s *Scrambler) HashNumber {
	return s.Scramble(xxh3.HashString(lookup))
}

func (Strings) Match(key, lookup string) bool { return key == lookup }
func (Strings) IsEmpty(key string) bool       { return key == EmptyString }
func (Strings) MakeEmpty(key *string)         { *key = EmptyString }

// Ints is the Policy for int64 keys. math.MinInt64 is reserved as the
// tombstone marker and may not be inserted.
type Ints struct{}

// EmptyInt is the tombstone marker used by Ints.
const EmptyInt int64 = math.MinInt64

func (Ints) Hash(lookup int64, s *Scrambler) HashNumber {
	return s.Scramble(uint64(lookup))
}

func (Ints) Match(key, lookup int64) bool { return key == lookup }
func (Ints) IsEmpty(key int64) bool       { return key == EmptyInt }
func (Ints) MakeEmpty(key *int64)         { *key = EmptyInt }
