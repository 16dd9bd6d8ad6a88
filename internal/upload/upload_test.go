package upload

import (
	"context"
	"strings"
	"testing"
)

func newTestService(t *testing.T, maxBytes int64) *Service {
	t.Helper()
	return New(Config{
		CoreBaseURL:    "http://127.0.0.1:0",
		InternalSecret: "secret",
		MaxUploadBytes: maxBytes,
	}, nil)
}

func TestProcessRejectsOversizedFile(t *testing.T) {
	s := newTestService(t, 10)
	_, err := s.Process(context.Background(), Request{
		Filename: "big.png",
		MimeType: "image/png",
		Data:     make([]byte, 11),
	})
	if err == nil || !strings.Contains(err.Error(), "exceeds max upload size") {
		t.Fatalf("Process error = %v, want an oversized-file rejection", err)
	}
}

func TestProcessRejectsDisallowedMIMEType(t *testing.T) {
	s := newTestService(t, 1<<20)
	_, err := s.Process(context.Background(), Request{
		Filename: "script.js",
		MimeType: "application/javascript",
		Data:     []byte("alert(1)"),
	})
	if err == nil || !strings.Contains(err.Error(), "is not accepted") {
		t.Fatalf("Process error = %v, want a mime-type rejection", err)
	}
}

func TestHashBytesIsDeterministic(t *testing.T) {
	a := hashBytes([]byte("hello"))
	b := hashBytes([]byte("hello"))
	if a != b {
		t.Error("hashBytes should be deterministic for identical input")
	}
	if a == hashBytes([]byte("world")) {
		t.Error("hashBytes should differ for different input")
	}
}
