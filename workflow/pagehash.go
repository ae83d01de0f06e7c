package workflow

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// pageUnchangedThreshold is the maximum Hamming distance between two page
// fingerprints still considered "the same page". Disclaimer clicks that do
// not move the fingerprint past it are treated as no-ops.
const pageUnchangedThreshold = 3

// pageFingerprint computes a 64-bit SimHash of the page's visible text.
// Word-level FNV-64a tokens accumulated into a bit vector: cheap to compute
// on every click and stable against minor DOM churn.
func pageFingerprint(text string) uint64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// pageChanged reports whether two fingerprints differ enough to count as a
// real page transition.
func pageChanged(before, after uint64) bool {
	return bits.OnesCount64(before^after) > pageUnchangedThreshold
}
