package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

// ErrRejected marks every validation failure returned by Validator.
var ErrRejected = errors.New("upload rejected")

// AllowedExtensions are the accepted image file extensions, lower case.
var AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// Validator checks uploads before anything is written
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new upload validator. A maxFileSize <= 0 disables
// the size check.
func NewValidator(maxFileSize int64) *Validator {
	slog.Info("security_validator_init", "max_file_size_mb", maxFileSize/1024/1024)
	return &Validator{maxFileSize: maxFileSize}
}

func rejected(format string, args ...any) error {
	return errors.Mark(fmt.Errorf(format, args...), ErrRejected)
}

// ValidateFilename rejects empty names, directory components and path
// traversal. The name becomes part of an object key, so it must be a bare
// file name.
func (v *Validator) ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		slog.Error("security_filename_validation_failed", "reason", "empty")
		return rejected("filename is required")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		slog.Error("security_filename_validation_failed", "filename", name, "reason", "absolute_path")
		return rejected("absolute path not allowed: %s", name)
	}
	if strings.Contains(name, "..") {
		slog.Error("security_filename_validation_failed", "filename", name, "reason", "path_traversal")
		return rejected("path traversal detected: %s", name)
	}
	if strings.ContainsAny(name, `/\`) {
		slog.Error("security_filename_validation_failed", "filename", name, "reason", "separator")
		return rejected("filename must not contain path separators: %s", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			slog.Error("security_filename_validation_failed", "filename", name, "reason", "control_character")
			return rejected("filename contains control characters")
		}
	}
	return nil
}

// ValidateExtension accepts only AllowedExtensions, case-insensitively.
func (v *Validator) ValidateExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	slog.Error("security_extension_rejected", "filename", name, "extension", ext)
	return rejected("unsupported file extension %q (allowed: %s)", ext, strings.Join(AllowedExtensions, ", "))
}

// ValidateFileSize checks the payload is non-empty and within the limit
func (v *Validator) ValidateFileSize(size int64) error {
	if size <= 0 {
		return rejected("file is empty")
	}
	if v.maxFileSize > 0 && size > v.maxFileSize {
		slog.Error("security_file_size_exceeded",
			"file_size_mb", size/1024/1024,
			"max_file_size_mb", v.maxFileSize/1024/1024)
		return rejected("file size %d exceeds max %d", size, v.maxFileSize)
	}
	return nil
}

// ValidateUpload runs every check in order and returns the first failure.
func (v *Validator) ValidateUpload(filename string, size int64) error {
	if err := v.ValidateFilename(filename); err != nil {
		return err
	}
	if err := v.ValidateExtension(filename); err != nil {
		return err
	}
	return v.ValidateFileSize(size)
}
