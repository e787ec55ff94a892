package detect

import (
	"bytes"
	"math"
	"testing"
)

func TestEntropyEmptyInput(t *testing.T) {
	if got := Entropy(nil); got != 0.0 {
		t.Fatalf("Entropy(nil) = %f, want 0", got)
	}
}

func TestEntropyUniformByte(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, 4096)
	if got := Entropy(data); got != 0.0 {
		t.Fatalf("all-identical bytes should score 0, got %f", got)
	}
}

func TestEntropyEqualFrequencies(t *testing.T) {
	// n distinct values, equally frequent, must score log2(n).
	cases := []int{2, 4, 16, 256}
	for _, n := range cases {
		data := make([]byte, 0, n*8)
		for v := 0; v < n; v++ {
			for i := 0; i < 8; i++ {
				data = append(data, byte(v))
			}
		}
		want := math.Log2(float64(n))
		if got := Entropy(data); math.Abs(got-want) > 1e-9 {
			t.Errorf("n=%d: entropy = %f, want %f", n, got, want)
		}
	}
}

func TestEntropyDeterministic(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 31)
	}
	first := Entropy(data)
	for i := 0; i < 10; i++ {
		if again := Entropy(data); again != first {
			t.Fatalf("entropy changed between runs: %f vs %f", first, again)
		}
	}
}
