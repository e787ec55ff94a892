package fuzzy

import (
	"bufio"
	"os"

	"github.com/glaslos/tlsh"
)

// tlshHasher computes TLSH digests. TLSH needs a minimum amount of input
// with enough byte variety; tiny or constant files fail, and callers treat
// that as "no digest" rather than an error worth reporting.
type tlshHasher struct{}

func (tlshHasher) Name() string { return "tlsh" }

func (tlshHasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest, err := tlsh.HashReader(bufio.NewReader(f))
	if err != nil {
		return "", err
	}
	return digest.String(), nil
}

func init() {
	Register(tlshHasher{})
}
