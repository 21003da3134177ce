package security

import (
	"testing"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

func TestValidateFilename(t *testing.T) {
	v := NewValidator(1024)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{"photo.jpg", false},
		{"my photo (1).png", false},
		{"", true},
		{"   ", true},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/file.jpg", true},
		{`dir\file.jpg`, true},
		{"a..b.jpg", true},
		{"bad\x00name.jpg", true},
	}

	for _, tt := range tests {
		err := v.ValidateFilename(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for filename: %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for filename %q: %v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrRejected) {
			t.Errorf("error for %q is not ErrRejected: %v", tt.name, err)
		}
	}
}

func TestValidateExtension(t *testing.T) {
	v := NewValidator(1024)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{"a.jpg", false},
		{"a.JPEG", false},
		{"a.Png", false},
		{"a.gif", false},
		{"a.bmp", false},
		{"a.webp", true},
		{"a.jpg.exe", true},
		{"noext", true},
		{"a.txt", true},
	}

	for _, tt := range tests {
		err := v.ValidateExtension(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tt.name, err)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	v := NewValidator(100)

	if err := v.ValidateFileSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}
	if err := v.ValidateFileSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}
	if err := v.ValidateFileSize(0); err == nil {
		t.Error("expected error for empty file")
	}

	unlimited := NewValidator(0)
	if err := unlimited.ValidateFileSize(1 << 40); err != nil {
		t.Errorf("unlimited validator rejected large file: %v", err)
	}
}

func TestValidateUpload_Order(t *testing.T) {
	v := NewValidator(10)

	// Extension is checked before size.
	err := v.ValidateUpload("big.txt", 1000)
	if err == nil || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := v.ValidateUpload("ok.png", 5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
