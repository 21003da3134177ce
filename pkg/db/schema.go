package db

import (
	"time"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

// Image status values. StatusUploaded is transient: the row exists but the
// blob write has not been confirmed yet.
const (
	StatusUploaded   = "uploaded"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// CanonicalStatuses are the lifecycle states shared by images and tasks.
var CanonicalStatuses = []string{StatusPending, StatusProcessing, StatusCompleted, StatusError}

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned by conditional transitions when the row
	// is no longer in the expected status.
	ErrStatusConflict = errors.New("status conflict")
)

// IsCanonicalStatus reports whether s is one of CanonicalStatuses.
func IsCanonicalStatus(s string) bool {
	for _, c := range CanonicalStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a task in status s is finished.
func IsTerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusError
}

// Image represents an uploaded picture and its processing state
type Image struct {
	ID            int64
	Name          string
	Description   string
	Filename      string
	OriginalPath  string
	ProcessedPath string
	Operation     string
	Status        string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Task represents one requested processing operation against an image
type Task struct {
	ID             int64
	ImageID        int64
	ProcessingType string
	Status         string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	// Duration is the number of seconds between creation and completion.
	Duration *int64
}

// Statistics is the raw aggregate read over the images table.
type Statistics struct {
	Total                int
	ByStatus             map[string]int
	MostPopularOperation string
}
