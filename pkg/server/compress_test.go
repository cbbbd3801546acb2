package server

import (
	"bytes"
	"testing"
)

func TestCompressDecompress(t *testing.T) {
	msg := bytes.Repeat([]byte("window boundary "), 64)

	compressed, err := CompressMessage(msg, true)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if len(compressed) >= len(msg) {
		t.Errorf("expected compressed frame to be smaller: %d >= %d", len(compressed), len(msg))
	}

	decompressed, err := DecompressMessage(compressed, true)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !bytes.Equal(msg, decompressed) {
		t.Errorf("roundtrip mismatch")
	}

	plain, err := DecompressMessage(msg, false)
	if err != nil || !bytes.Equal(plain, msg) {
		t.Errorf("disabled gzip must pass frames through")
	}
	if _, err := DecompressMessage([]byte("not gzip"), true); err == nil {
		t.Errorf("expected error for invalid gzip frame")
	}
}
