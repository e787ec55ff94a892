package detect

import "math"

// EntropyThreshold marks the Shannon score above which image content looks
// encrypted or deliberately random.
const EntropyThreshold = 7.8

// Entropy computes the Shannon entropy of data in bits per byte. Empty
// input scores 0.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
