package mapping

import (
	"time"

	"github.com/google/uuid"
)

// Equivalence labels, FHIR-aligned.
const (
	EquivalenceEquivalent = "EQUIVALENT"
	EquivalenceWider      = "WIDER"
	EquivalenceNarrower   = "NARROWER"
	EquivalenceInexact    = "INEXACT"
	EquivalenceUnmatched  = "UNMATCHED"
	EquivalenceDisjoint   = "DISJOINT"
)

// Mapping provenance.
const (
	SourceDeterministic  = "DETERMINISTIC"
	SourceSemantic       = "SEMANTIC"
	SourceAIValidated    = "AI_VALIDATED"
	SourceHumanValidated = "HUMAN_VALIDATED"
)

// Human validation states.
const (
	StatusPending     = "PENDING"
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
	StatusNeedsReview = "NEEDS_REVIEW"
)

var validEquivalences = map[string]bool{
	EquivalenceEquivalent: true,
	EquivalenceWider:      true,
	EquivalenceNarrower:   true,
	EquivalenceInexact:    true,
	EquivalenceUnmatched:  true,
	EquivalenceDisjoint:   true,
}

var validValidationStatuses = map[string]bool{
	StatusPending:     true,
	StatusApproved:    true,
	StatusRejected:    true,
	StatusNeedsReview: true,
}

// IsValidEquivalence reports whether e is part of the equivalence taxonomy.
func IsValidEquivalence(e string) bool { return validEquivalences[e] }

// IsValidValidationStatus reports whether s is a known review state.
func IsValidValidationStatus(s string) bool { return validValidationStatuses[s] }

// Mapping is one persisted source→target decision. The target reference is
// never null; unmatched pipeline outcomes are not stored.
type Mapping struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	SourceID         uuid.UUID  `db:"source_id" json:"source_id"`
	TargetID         uuid.UUID  `db:"target_id" json:"target_id"`
	Equivalence      string     `db:"equivalence" json:"equivalence"`
	Confidence       float64    `db:"confidence" json:"confidence"`
	MappingSource    string     `db:"mapping_source" json:"mapping_source"`
	ValidationStatus string     `db:"validation_status" json:"validation_status"`
	Validator        *string    `db:"validator" json:"validator,omitempty"`
	ValidatedAt      *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	Reasoning        string     `db:"reasoning" json:"reasoning"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Detail is a mapping joined with the source and target rows it links, the
// shape the list and translate responses are built from.
type Detail struct {
	Mapping
	SourceCode    string  `json:"source_code"`
	SourceSystem  string  `json:"source_system"`
	SourceTerm    string  `json:"source_term"`
	SourceEnglish *string `json:"source_english_name,omitempty"`
	TargetCode    string  `json:"target_code"`
	TargetTitle   string  `json:"target_title"`
}

// Filter narrows a mapping listing.
type Filter struct {
	System        string
	Equivalence   string
	Status        string
	MinConfidence float64
	MaxConfidence float64
	Search        string
	SortBy        string // created_at | confidence | equivalence
	SortDesc      bool
}

// Stats aggregates the mapping table for dashboards.
type Stats struct {
	Total              int                `json:"total"`
	ByMappingSource    map[string]int     `json:"by_mapping_source"`
	ByValidationStatus map[string]int     `json:"by_validation_status"`
	BySystem           map[string]int     `json:"by_system"`
	AverageConfidence  float64            `json:"average_confidence"`
}
