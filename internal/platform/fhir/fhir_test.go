package fhir

import (
	"encoding/json"
	"testing"
)

func TestOutcomeShapes(t *testing.T) {
	o := NotFoundOutcome("CodeSystem", "xyz")
	if o.ResourceType != "OperationOutcome" {
		t.Errorf("resourceType = %q", o.ResourceType)
	}
	if len(o.Issue) != 1 || o.Issue[0].Code != IssueTypeNotFound {
		t.Errorf("issue = %+v", o.Issue)
	}

	r := RequiredOutcome("code")
	if r.Issue[0].Code != IssueTypeRequired {
		t.Errorf("issue code = %q", r.Issue[0].Code)
	}
	if r.Issue[0].Diagnostics == "" {
		t.Error("expected diagnostics text")
	}
}

func TestParametersBuilder(t *testing.T) {
	p := NewParameters().
		String("name", "NAMASTE-Ayurveda").
		Bool("result", true).
		Decimal("confidence", 0.9).
		Part("match",
			Parameter{Name: "equivalence", ValueCode: "equivalent"},
			Parameter{Name: "concept", ValueCoding: &Coding{System: SystemICD11TM2URI, Code: "SK00.0"}},
		).
		Build()

	if p.ResourceType != "Parameters" {
		t.Errorf("resourceType = %q", p.ResourceType)
	}
	if len(p.Parameter) != 4 {
		t.Fatalf("expected 4 parameters, got %d", len(p.Parameter))
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	// false booleans and zero decimals must still serialize when set.
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	params := decoded["parameter"].([]interface{})
	result := params[1].(map[string]interface{})
	if result["valueBoolean"] != true {
		t.Errorf("valueBoolean = %v", result["valueBoolean"])
	}
}

func TestParseParameters(t *testing.T) {
	p := &Parameters{Parameter: []Parameter{
		{Name: "code", ValueCode: "AAA-1"},
		{Name: "system", ValueUri: "https://terminology.ayurbridge.org/CodeSystem/namaste-ayurveda"},
		{Name: "filter", ValueString: "fever"},
	}}
	got := ParseParameters(p)
	if got["code"] != "AAA-1" {
		t.Errorf("code = %q", got["code"])
	}
	if got["system"] != SystemAyurvedaURI {
		t.Errorf("system = %q", got["system"])
	}
	if got["filter"] != "fever" {
		t.Errorf("filter = %q", got["filter"])
	}
}

func TestDesignationLanguage(t *testing.T) {
	tests := map[string]string{
		"ayurveda": "sa",
		"Siddha":   "ta",
		"unani":    "ur",
		"icd11":    "",
	}
	for system, want := range tests {
		if got := DesignationLanguage(system); got != want {
			t.Errorf("DesignationLanguage(%q) = %q, want %q", system, got, want)
		}
	}
}

func TestSystemURI(t *testing.T) {
	if SystemURI("ayurveda") != SystemAyurvedaURI {
		t.Error("ayurveda URI mismatch")
	}
	if SystemURI("anything-else") != SystemICD11TM2URI {
		t.Error("unknown systems default to the target URI")
	}
}
