package ordered

import "testing"

func TestScramblerIsKeyed(t *testing.T) {
	a := NewScrambler(1, 2)
	b := NewScrambler(1, 2)
	c := NewScrambler(1, 3)
	d := NewScrambler(5, 2)

	same, differ := 0, 0
	for h := uint64(0); h < 256; h++ {
		if a.Scramble(h) != b.Scramble(h) {
			t.Fatalf("Scramble(%d) differs under equal keys", h)
		}
		if a.Scramble(h) == c.Scramble(h) {
			same++
		}
		if a.Scramble(h) != d.Scramble(h) {
			differ++
		}
	}
	if same > 2 {
		t.Errorf("%d of 256 hashes unchanged by k1", same)
	}
	if differ < 254 {
		t.Errorf("only %d of 256 hashes changed by k0", differ)
	}
}

func TestScramblerSpreadsSequentialWords(t *testing.T) {
	s := NewScrambler(0x0123456789abcdef, 0xfedcba9876543210)
	// Tables index buckets with the top bits of the hash.
	const buckets = 16
	var counts [buckets]int
	for h := uint64(0); h < 1600; h++ {
		counts[s.Scramble(h)>>(32-4)]++
	}
	for i, n := range counts {
		if n < 50 || n > 150 {
			t.Errorf("bucket %d got %d of 1600 sequential words", i, n)
		}
	}
}
