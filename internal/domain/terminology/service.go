// Package terminology is the FHIR R4 façade over the terminology store and
// the mapping pipeline: CodeSystem $lookup, ConceptMap $translate, and
// ValueSet $expand. It holds no state of its own; translate shares the
// mapping cache with the flat API.
package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayurbridge/terminology-api/internal/domain/mapping"
	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
	"github.com/ayurbridge/terminology-api/internal/platform/fhir"
)

// ErrNotFound marks a lookup miss; the handler maps it to a FHIR
// OperationOutcome with issue code not-found.
var ErrNotFound = errors.New("code not found")

const targetSystemID = "icd11-tm2"

// Translator is the slice of the mapping service the façade needs.
type Translator interface {
	Translate(ctx context.Context, code, system string) (*mapping.TranslateResult, error)
}

// SourceCatalog is the slice of the source-code service the façade needs.
type SourceCatalog interface {
	FindByCode(ctx context.Context, code, system string) (*sourcecode.SourceCode, error)
	List(ctx context.Context, filter, system string, limit, offset int) ([]*sourcecode.SourceCode, int, error)
	CountBySystem(ctx context.Context) (map[string]int, error)
}

// TargetCatalog is the slice of the target-code service the façade needs.
type TargetCatalog interface {
	FindByCode(ctx context.Context, code string) (*targetcode.TargetCode, error)
	Count(ctx context.Context) (int, error)
}

type Service struct {
	sources    SourceCatalog
	targets    TargetCatalog
	translator Translator
}

func NewService(sources SourceCatalog, targets TargetCatalog, translator Translator) *Service {
	return &Service{sources: sources, targets: targets, translator: translator}
}

// resolveSystem accepts either a short system id ("ayurveda") or a canonical
// URI and returns the short id, with ok=false for unknown systems.
func resolveSystem(system string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(system))
	switch s {
	case sourcecode.SystemAyurveda, sourcecode.SystemSiddha, sourcecode.SystemUnani, targetSystemID:
		return s, true
	case strings.ToLower(fhir.SystemAyurvedaURI):
		return sourcecode.SystemAyurveda, true
	case strings.ToLower(fhir.SystemSiddhaURI):
		return sourcecode.SystemSiddha, true
	case strings.ToLower(fhir.SystemUnaniURI):
		return sourcecode.SystemUnani, true
	case strings.ToLower(fhir.SystemICD11TM2URI):
		return targetSystemID, true
	}
	return "", false
}

func codeSystemName(system string) string {
	switch system {
	case sourcecode.SystemAyurveda:
		return "NAMASTE-Ayurveda"
	case sourcecode.SystemSiddha:
		return "NAMASTE-Siddha"
	case sourcecode.SystemUnani:
		return "NAMASTE-Unani"
	default:
		return "ICD-11-TM2"
	}
}

// Lookup resolves a code in one of the four code systems into a Parameters
// document. Source codes carry a designation in their native-script
// language.
func (s *Service) Lookup(ctx context.Context, system, code string) (*fhir.Parameters, error) {
	sys, ok := resolveSystem(system)
	if !ok {
		return nil, fmt.Errorf("unknown system %q", system)
	}

	if sys == targetSystemID {
		tc, err := s.targets.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, targetcode.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		b := fhir.NewParameters().
			String("name", codeSystemName(sys)).
			String("display", tc.Title)
		if d := tc.DefinitionText(); d != "" {
			b.String("definition", d)
		}
		return b.Build(), nil
	}

	sc, err := s.sources.FindByCode(ctx, code, sys)
	if err != nil {
		if errors.Is(err, sourcecode.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	b := fhir.NewParameters().
		String("name", codeSystemName(sys)).
		String("display", sc.DisplayName())
	if sc.ShortDefinition != nil && *sc.ShortDefinition != "" {
		b.String("definition", *sc.ShortDefinition)
	} else if sc.LongDefinition != nil && *sc.LongDefinition != "" {
		b.String("definition", *sc.LongDefinition)
	}
	b.Part("designation",
		fhir.Parameter{Name: "language", ValueCode: fhir.DesignationLanguage(sys)},
		fhir.Parameter{Name: "value", ValueString: sc.Term},
	)
	return b.Build(), nil
}

// Translate runs the same translate path as POST /mapping and shapes the
// outcome as a Parameters document.
func (s *Service) Translate(ctx context.Context, code, system string) (*fhir.Parameters, error) {
	sys, ok := resolveSystem(system)
	if !ok || sys == targetSystemID {
		return nil, fmt.Errorf("system must name a traditional-medicine code system")
	}

	res, err := s.translator.Translate(ctx, code, sys)
	if err != nil {
		return nil, err
	}

	b := fhir.NewParameters()
	if res.Mapping.Target == nil {
		b.Bool("result", false).
			String("message", "No mapping available for "+code)
		return b.Build(), nil
	}

	b.Bool("result", true)
	b.Part("match",
		fhir.Parameter{Name: "equivalence", ValueCode: strings.ToLower(res.Mapping.Equivalence)},
		fhir.Parameter{Name: "concept", ValueCoding: &fhir.Coding{
			System:  fhir.SystemICD11TM2URI,
			Code:    res.Mapping.Target.Code,
			Display: res.Mapping.Target.Title,
		}},
		fhir.Parameter{Name: "source", ValueString: provenance(res)},
		fhir.Parameter{Name: "confidence", ValueDecimal: &res.Mapping.Confidence},
	)
	return b.Build(), nil
}

func provenance(res *mapping.TranslateResult) string {
	if res.Mapping.MappingSource != "" {
		return res.Mapping.MappingSource
	}
	return mapping.SourceAIValidated
}

// ExpandResult is the ValueSet $expand payload before FHIR shaping.
type ExpandResult struct {
	Total    int
	Offset   int
	Contains []ExpandEntry
}

// ExpandEntry is one expansion member.
type ExpandEntry struct {
	System  string
	Code    string
	Display string
}

// Expand pages through the source catalog with optional substring filtering.
func (s *Service) Expand(ctx context.Context, filter, system string, count, offset int) (*ExpandResult, error) {
	if system != "" {
		sys, ok := resolveSystem(system)
		if !ok || sys == targetSystemID {
			return nil, fmt.Errorf("unknown source system %q", system)
		}
		system = sys
	}
	if count <= 0 || count > 100 {
		count = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.sources.List(ctx, filter, system, count, offset)
	if err != nil {
		return nil, err
	}

	out := &ExpandResult{Total: total, Offset: offset}
	for _, sc := range items {
		out.Contains = append(out.Contains, ExpandEntry{
			System:  fhir.SystemURI(sc.System),
			Code:    sc.Code,
			Display: sc.DisplayName(),
		})
	}
	return out, nil
}

// CodeSystemInfo summarizes one of the four code systems for the
// /fhir/CodeSystem listing.
type CodeSystemInfo struct {
	ID    string
	Name  string
	URI   string
	Count int
}

// CodeSystems lists the four systems with their concept counts.
func (s *Service) CodeSystems(ctx context.Context) ([]CodeSystemInfo, error) {
	bySystem, err := s.sources.CountBySystem(ctx)
	if err != nil {
		return nil, err
	}
	targetCount, err := s.targets.Count(ctx)
	if err != nil {
		return nil, err
	}

	out := []CodeSystemInfo{
		{ID: sourcecode.SystemAyurveda, Name: codeSystemName(sourcecode.SystemAyurveda), URI: fhir.SystemAyurvedaURI, Count: bySystem[sourcecode.SystemAyurveda]},
		{ID: sourcecode.SystemSiddha, Name: codeSystemName(sourcecode.SystemSiddha), URI: fhir.SystemSiddhaURI, Count: bySystem[sourcecode.SystemSiddha]},
		{ID: sourcecode.SystemUnani, Name: codeSystemName(sourcecode.SystemUnani), URI: fhir.SystemUnaniURI, Count: bySystem[sourcecode.SystemUnani]},
		{ID: targetSystemID, Name: codeSystemName(targetSystemID), URI: fhir.SystemICD11TM2URI, Count: targetCount},
	}
	return out, nil
}
