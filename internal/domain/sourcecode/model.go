package sourcecode

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Traditional-medicine systems covered by the source catalog.
const (
	SystemAyurveda = "ayurveda"
	SystemSiddha   = "siddha"
	SystemUnani    = "unani"
)

var validSystems = map[string]bool{
	SystemAyurveda: true,
	SystemSiddha:   true,
	SystemUnani:    true,
}

// IsValidSystem reports whether s names a known traditional-medicine system.
func IsValidSystem(s string) bool {
	return validSystems[strings.ToLower(s)]
}

// NormalizeSystem lowercases a system name for storage and cache keys.
func NormalizeSystem(s string) string {
	return strings.ToLower(s)
}

// SourceCode is one entry of the NAMASTE source catalog.
type SourceCode struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Code           string    `db:"code" json:"code"`
	System         string    `db:"system" json:"system"`
	Term           string    `db:"term" json:"term"`
	TermNormalized *string   `db:"term_normalized" json:"term_normalized,omitempty"`
	NativeScript   *string   `db:"native_script" json:"native_script,omitempty"`
	ShortDefinition *string  `db:"short_definition" json:"short_definition,omitempty"`
	LongDefinition *string   `db:"long_definition" json:"long_definition,omitempty"`
	EnglishName    *string   `db:"english_name" json:"english_name,omitempty"`
	SearchableText *string   `db:"searchable_text" json:"searchable_text,omitempty"`
	HasEmbedding   bool      `db:"-" json:"has_embedding"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DescriptionText builds the text the pipeline normalizes and embeds: the
// first non-empty description field in priority order, lowercased and
// trimmed. Empty when the record carries no usable text at all.
func (s *SourceCode) DescriptionText() string {
	for _, f := range []string{
		deref(s.ShortDefinition),
		deref(s.EnglishName),
		deref(s.LongDefinition),
		s.Term,
		deref(s.TermNormalized),
	} {
		f = strings.TrimSpace(f)
		if f != "" {
			return strings.ToLower(f)
		}
	}
	return ""
}

// DisplayName prefers the English name, falling back to the native term.
func (s *SourceCode) DisplayName() string {
	if n := deref(s.EnglishName); n != "" {
		return n
	}
	return s.Term
}
