package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

func TestOriginalKey(t *testing.T) {
	tests := []struct {
		id       int64
		filename string
		want     string
	}{
		{1, "cat.jpg", "original/1-cat.jpg"},
		{42, "my-photo.PNG", "original/42-my-photo.PNG"},
	}
	for _, tt := range tests {
		key := OriginalKey(tt.id, tt.filename)
		if key != tt.want {
			t.Errorf("OriginalKey(%d, %q) = %q, want %q", tt.id, tt.filename, key, tt.want)
		}
		id, filename, err := ParseOriginalKey(key)
		if err != nil {
			t.Fatalf("ParseOriginalKey(%q) error: %v", key, err)
		}
		if id != tt.id || filename != tt.filename {
			t.Errorf("ParseOriginalKey(%q) = (%d, %q)", key, id, filename)
		}
	}
}

func TestParseOriginalKeyRejects(t *testing.T) {
	for _, key := range []string{
		"processed/1-cat.jpg",
		"original/cat.jpg",
		"original/abc-cat.jpg",
		"original/0-cat.jpg",
		"original/7-",
	} {
		if _, _, err := ParseOriginalKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseOriginalKey(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestGateway_PublicURL(t *testing.T) {
	tests := []struct {
		base     string
		filename string
		want     string
	}{
		{"https://cdn.example.com", "a.png", "https://cdn.example.com/original/5-a.png"},
		{"https://cdn.example.com/", "a.png", "https://cdn.example.com/original/5-a.png"},
		{"https://cdn.example.com", "my photo.png", "https://cdn.example.com/original/5-my%20photo.png"},
		{"https://cdn.example.com", "take#2.png", "https://cdn.example.com/original/5-take%232.png"},
	}
	for _, tt := range tests {
		g := NewGateway(NewMemoryBackend(), tt.base, 0)
		if got := g.PublicURL(5, tt.filename); got != tt.want {
			t.Errorf("PublicURL(%q) with base %q = %q, want %q", tt.filename, tt.base, got, tt.want)
		}
	}
}

func TestProcessedKey(t *testing.T) {
	if got := ProcessedKey(12, "a.png"); got != "processed/12-a.png" {
		t.Errorf("ProcessedKey = %q", got)
	}
	g := NewGateway(NewMemoryBackend(), "", 0)
	if got := g.ProcessedKey(12, "a.png"); got != ProcessedKey(12, "a.png") {
		t.Errorf("Gateway.ProcessedKey = %q", got)
	}
}

func TestGateway_UploadExistsDelete(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	g := NewGateway(backend, "http://localhost", 0)

	key, err := g.Upload(ctx, 9, "pic.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if key != "original/9-pic.jpg" {
		t.Errorf("key = %q", key)
	}

	data, contentType, ok := backend.Object(key)
	if !ok || string(data) != "jpeg-bytes" {
		t.Fatalf("object not stored correctly: ok=%v data=%q", ok, data)
	}
	if contentType != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", contentType)
	}

	exists, err := g.Exists(ctx, 9, "pic.jpg")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	if err := g.Delete(ctx, 9, "pic.jpg"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if exists, _ := g.Exists(ctx, 9, "pic.jpg"); exists {
		t.Error("object still present after delete")
	}
}

func TestGateway_ListOriginals(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(NewMemoryBackend(), "", 0)

	g.Upload(ctx, 1, "a.png", []byte("a"))
	g.Upload(ctx, 2, "b.gif", []byte("b"))

	originals, err := g.ListOriginals(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(originals) != 2 {
		t.Fatalf("expected 2 originals, got %+v", originals)
	}
	if originals[0].ImageID != 1 || originals[1].Filename != "b.gif" {
		t.Errorf("unexpected originals: %+v", originals)
	}
}

type brokenBackend struct{ MemoryBackend }

func (b *brokenBackend) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestGateway_TestConnectivity(t *testing.T) {
	ctx := context.Background()

	if err := NewGateway(NewMemoryBackend(), "", 0).TestConnectivity(ctx); err != nil {
		t.Errorf("memory backend connectivity: %v", err)
	}
	if err := NewGateway(&brokenBackend{}, "", 0).TestConnectivity(ctx); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected wrapped backend error, got %v", err)
	}
}

func TestMemoryBackend_ListLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	for _, k := range []string{"original/3-c", "original/1-a", "original/2-b", "other/x"} {
		if err := m.Put(ctx, k, strings.NewReader(k), int64(len(k)), ""); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, _ := m.List(ctx, OriginalPrefix, 2)
	if len(keys) != 2 || keys[0] != "original/1-a" || keys[1] != "original/2-b" {
		t.Errorf("List limit 2 = %v", keys)
	}
}
