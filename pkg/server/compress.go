package server

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressMessage compresses a frame if enabled
func CompressMessage(msg []byte, enable bool) ([]byte, error) {
	if !enable {
		return msg, nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(msg); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressMessage decompresses a frame if enabled
func DecompressMessage(msg []byte, enable bool) ([]byte, error) {
	if !enable {
		return msg, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(msg))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
