package wire

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// deflate returns the DEFLATE-compressed form of data. Used by EncodeFrame
// to decide whether the compression flag is worth setting (spec.md §4.1).
func deflate(data []byte) []byte {
	var buf bytes.Buffer
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = fw.Write(data)
	_ = fw.Close()
	return buf.Bytes()
}

func inflate(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}
