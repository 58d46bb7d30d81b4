// Package progress holds the per-pointer progress model and the bounded queue that
// carries updates from transfer tasks to the download manager.
package progress

// State is the lifecycle of one pointer's transfer.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

// IsTerminal reports whether no further updates follow this state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// IsActive reports whether the pointer occupies an in-flight slot (queued or running).
func (s State) IsActive() bool {
	return s == StateNotStarted || s == StateInProgress
}

func (s State) String() string {
	return string(s)
}

// Progress counts the bytes present in the destination file. TotalSize is nil until the
// server announces a length.
type Progress struct {
	BytesDownloaded uint64  `json:"bytes_downloaded"`
	TotalSize       *uint64 `json:"total_size,omitempty"`
}

// Known returns a Progress with a known total.
func Known(downloaded, total uint64) Progress {
	return Progress{BytesDownloaded: downloaded, TotalSize: &total}
}

// Done reports whether the downloaded count reached a known total.
func (p Progress) Done() bool {
	return p.TotalSize != nil && p.BytesDownloaded >= *p.TotalSize
}

// Update is what a transfer task emits. Intermediate updates carry InProgress; the last
// update a task emits carries a terminal state and, on success, the content hash and length.
type Update struct {
	PointerID     string
	Progress      Progress
	State         State
	Err           error
	ContentHash   string
	ContentLength int64
	// Skipped marks a completion satisfied by an already verified file.
	Skipped bool
}

// Status is the read-only view of one pointer exposed by the manager.
type Status struct {
	Progress
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}
