package engine

import (
	"io"
	"os"
	"strings"

	"golang.org/x/exp/mmap"
)

// maxContentReadBytes caps content reads regardless of configuration so a
// single huge file cannot pin the process.
const maxContentReadBytes = 10 * 1024 * 1024

const (
	defaultMmapMinSize = 128 * 1024
	defaultChunkSize   = 256 * 1024
)

var openMmap = mmap.Open

type readOptions struct {
	mode        string
	maxBytes    int64
	mmapMinSize int64
	chunkSize   int
}

func (o readOptions) normalized() readOptions {
	o.maxBytes = clampReadLimit(o.maxBytes)
	if o.mmapMinSize <= 0 {
		o.mmapMinSize = defaultMmapMinSize
	}
	if o.chunkSize <= 0 {
		o.chunkSize = defaultChunkSize
	}
	o.mode = strings.ToLower(strings.TrimSpace(o.mode))
	if o.mode == "" {
		o.mode = "auto"
	}
	return o
}

// readContent loads a file for the byte-level probes. A nil slice with a
// nil error means the file was skipped for exceeding the read limit. In
// auto mode, files at or above the mmap threshold try the mapped path
// first and fall back to streaming.
func readContent(path string, o readOptions) ([]byte, error) {
	o = o.normalized()
	switch o.mode {
	case "mmap":
		return readContentMmap(path, o.maxBytes)
	case "auto":
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > o.maxBytes {
			return nil, nil
		}
		if info.Size() >= o.mmapMinSize {
			content, err := readContentMmap(path, o.maxBytes)
			if err == nil {
				return content, nil
			}
		}
		return readContentStream(path, o.maxBytes, o.chunkSize)
	default:
		return readContentStream(path, o.maxBytes, o.chunkSize)
	}
}

func readContentMmap(path string, maxBytes int64) ([]byte, error) {
	maxBytes = clampReadLimit(maxBytes)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxBytes {
		return nil, nil
	}

	r, err := openMmap(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	size := info.Size()
	if size <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func readContentStream(path string, maxBytes int64, chunkSize int) ([]byte, error) {
	maxBytes = clampReadLimit(maxBytes)
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var content []byte
	if info, err := f.Stat(); err == nil {
		if info.Size() > maxBytes {
			return nil, nil
		}
		if info.Size() > 0 {
			content = make([]byte, 0, info.Size())
		}
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if total+int64(n) > maxBytes {
				chunk = chunk[:maxBytes-total]
			}
			content = append(content, chunk...)
			total += int64(len(chunk))
			if total >= maxBytes {
				break
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

func clampReadLimit(maxBytes int64) int64 {
	if maxBytes <= 0 || maxBytes > maxContentReadBytes {
		return maxContentReadBytes
	}
	return maxBytes
}
