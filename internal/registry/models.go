package registry

import "time"

// Clip render states.
const (
	StatePlanned   = "planned"
	StateQueued    = "queued"
	StateRendering = "rendering"
	StateRendered  = "rendered"
	StateRejected  = "rejected"
)

// UnfinishedStates are the states resume is allowed to pick up. A clip
// left in rendering is never retried automatically.
var UnfinishedStates = []string{StatePlanned, StateQueued, StateRejected}

var validStates = map[string]bool{
	StatePlanned:   true,
	StateQueued:    true,
	StateRendering: true,
	StateRendered:  true,
	StateRejected:  true,
}

// IsValidState reports whether s is a known clip state.
func IsValidState(s string) bool {
	return validStates[s]
}

type Project struct {
	ProjectID string    `json:"project_id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClipRecord is one row of the clips table, keyed by (ProjectID, ClipID).
type ClipRecord struct {
	ProjectID  string    `json:"project_id"`
	ClipID     string    `json:"clip_id"`
	State      string    `json:"state"`
	OutputPath string    `json:"output_path,omitempty"`
	RenderHash string    `json:"render_hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastError  string    `json:"last_error,omitempty"`
}
