// Package store provides SQLite-backed persistence for the lexicon.
// This is the unified data layer behind the database service; the engine
// instance it wraps is the single source of truth for entries.
package store

// Status is the validation state of an entry. Set by validation and
// correction workflows, never by extraction.
type Status string

const (
	StatusUnchecked Status = "unchecked"
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
)

// Entry is one dictionary headword reading.
// Maps 1:1 to the UI's entry interface.
type Entry struct {
	ID                string `json:"id"`
	HebrewWord        string `json:"hebrewWord"`
	HebrewConsonantal string `json:"hebrewConsonantal,omitempty"`
	Transliteration   string `json:"transliteration,omitempty"`
	PartOfSpeech      string `json:"partOfSpeech"`
	Definition        string `json:"definition"`
	Root              string `json:"root,omitempty"`

	// Derived at ingestion and stored denormalized; not recomputed on read.
	IsRoot         bool   `json:"isRoot"`
	StrongsNumbers string `json:"strongsNumbers,omitempty"` // slash-joined

	SourcePage string `json:"sourcePage"`
	SourceURL  string `json:"sourceUrl,omitempty"` // may be a session-local blob URL
	DateAdded  int64  `json:"dateAdded"`           // epoch ms, assigned at write time
	Status     Status `json:"status"`
	// ValidationIssue is present only when Status is StatusInvalid.
	ValidationIssue string `json:"validationIssue,omitempty"`
}
