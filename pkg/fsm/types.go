package fsm

// ReconcileRequest is the FSM input
type ReconcileRequest struct {
	ImageID int64
}

// ReconcileResponse is the FSM output (accumulated across transitions)
type ReconcileResponse struct {
	// From CheckDB
	ImageID  int64
	Filename string
	Status   string
	Skipped  bool

	// From CheckBlob
	BlobFound bool

	// From Resolve
	Outcome      string
	ErrorMessage string
}

// State names
const (
	StateCheckDB   = "check_db"
	StateCheckBlob = "check_blob"
	StateResolve   = "resolve"
	StateFailed    = "failed"
)

// Outcomes of one reconciliation.
const (
	OutcomePromoted = "promoted"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// MissingBlobMessage is recorded on images whose blob never arrived.
const MissingBlobMessage = "upload interrupted: original blob not found"
