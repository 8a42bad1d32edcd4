package targetcode

import (
	"time"

	"github.com/google/uuid"
)

// TargetCode is one entry of the ICD-11 Traditional Medicine Module 2
// catalog.
type TargetCode struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Code               string    `db:"code" json:"code"`
	Title              string    `db:"title" json:"title"`
	Definition         *string   `db:"definition" json:"definition,omitempty"`
	Category           *string   `db:"category" json:"category,omitempty"`
	ParentCode         *string   `db:"parent_code" json:"parent_code,omitempty"`
	Synonyms           []string  `db:"synonyms" json:"synonyms"`
	Inclusions         []string  `db:"inclusions" json:"inclusions"`
	Exclusions         []string  `db:"exclusions" json:"exclusions"`
	TraditionalSystems []string  `db:"traditional_systems" json:"traditional_systems"`
	HasEmbedding       bool      `db:"-" json:"has_embedding"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// DefinitionText returns the definition or "".
func (t *TargetCode) DefinitionText() string {
	if t.Definition == nil {
		return ""
	}
	return *t.Definition
}

// TruncatedDefinition bounds the definition for compact adjudicator prompts.
func (t *TargetCode) TruncatedDefinition(max int) string {
	d := t.DefinitionText()
	runes := []rune(d)
	if len(runes) <= max {
		return d
	}
	return string(runes[:max]) + "..."
}

// ScoredTarget is a retrieval candidate with its ranking score. Method names
// which ranker produced the score: "vector", "fulltext", or "keyword".
type ScoredTarget struct {
	Target *TargetCode `json:"target"`
	Score  float64     `json:"score"`
	Method string      `json:"method"`
}
