package schema

import "time"

// VocabularyTerm is an organization-specific term the matcher corrects
// transcripts toward: product names, people, industry jargon.
type VocabularyTerm struct {
	ID             string    `json:"id"` // UUID
	OrganizationID string    `json:"organization_id"`
	Term           string    `json:"term"`
	Variations     []string  `json:"variations,omitempty"`    // known misspellings and aliases
	Phonetic       string    `json:"phonetic,omitempty"`      // precomputed phonetic key
	ContextHints   []string  `json:"context_hints,omitempty"` // words expected near the term
	UsageCount     int64     `json:"usage_count"`
	Confidence     float64   `json:"confidence"` // 0..1, adjusted by the learning loop
	Active         bool      `json:"active"`     // soft-deleted terms stay for audit
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CorrectionRecord is one manual edit of a transcript, append-only.
type CorrectionRecord struct {
	ID             string    `json:"id"` // UUID
	OrganizationID string    `json:"organization_id"`
	JobID          string    `json:"job_id,omitempty"`
	Original       string    `json:"original"`
	Corrected      string    `json:"corrected"`
	Applied        bool      `json:"applied"` // fed back into term confidence already
	CreatedAt      time.Time `json:"created_at"`
}

// SuggestionStatus is the review state of a learned vocabulary candidate.
type SuggestionStatus string

const (
	SuggestionPending     SuggestionStatus = "pending"
	SuggestionAccepted    SuggestionStatus = "accepted"
	SuggestionRejected    SuggestionStatus = "rejected"
	SuggestionAutoLearned SuggestionStatus = "auto_learned"
)

// VocabularySuggestion is a recurring corrected phrase the learning loop
// proposes as a new vocabulary term.
type VocabularySuggestion struct {
	ID             string           `json:"id"` // UUID
	OrganizationID string           `json:"organization_id"`
	Term           string           `json:"term"`
	Occurrences    int              `json:"occurrences"`
	FirstSeen      time.Time        `json:"first_seen"`
	LastSeen       time.Time        `json:"last_seen"`
	Status         SuggestionStatus `json:"status"`
}

// VocabularyMatch records one substitution the matcher performed on a
// transcript segment.
type VocabularyMatch struct {
	TermID       string  `json:"term_id"`
	Term         string  `json:"term"`
	Original     string  `json:"original"`
	SegmentIndex int     `json:"segment_index"`
	Similarity   float64 `json:"similarity"`
	ContextHint  string  `json:"context_hint,omitempty"` // hint that supported the match, empty for exact matches
}
