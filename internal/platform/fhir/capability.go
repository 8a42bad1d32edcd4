package fhir

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// System URIs for the code systems this server bridges.
const (
	SystemAyurvedaURI = "https://terminology.ayurbridge.org/CodeSystem/namaste-ayurveda"
	SystemSiddhaURI   = "https://terminology.ayurbridge.org/CodeSystem/namaste-siddha"
	SystemUnaniURI    = "https://terminology.ayurbridge.org/CodeSystem/namaste-unani"
	SystemICD11TM2URI = "http://id.who.int/icd/release/11/mms"
)

// SystemURI returns the canonical URI for a traditional-medicine system name.
func SystemURI(system string) string {
	switch system {
	case "ayurveda", "Ayurveda", "AYURVEDA":
		return SystemAyurvedaURI
	case "siddha", "Siddha", "SIDDHA":
		return SystemSiddhaURI
	case "unani", "Unani", "UNANI":
		return SystemUnaniURI
	default:
		return SystemICD11TM2URI
	}
}

// DesignationLanguage maps a traditional-medicine system to the BCP-47 tag of
// its native script.
func DesignationLanguage(system string) string {
	switch system {
	case "ayurveda", "Ayurveda", "AYURVEDA":
		return "sa"
	case "siddha", "Siddha", "SIDDHA":
		return "ta"
	case "unani", "Unani", "UNANI":
		return "ur"
	default:
		return ""
	}
}

// CapabilityHandler serves the CapabilityStatement at /fhir/metadata.
func CapabilityHandler(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		statement := map[string]interface{}{
			"resourceType": "CapabilityStatement",
			"status":       "active",
			"date":         time.Now().UTC().Format("2006-01-02"),
			"kind":         "instance",
			"fhirVersion":  "4.0.1",
			"format":       []string{"json"},
			"software": map[string]interface{}{
				"name":    "terminology-bridge",
				"version": version,
			},
			"rest": []map[string]interface{}{
				{
					"mode": "server",
					"resource": []map[string]interface{}{
						{
							"type":        "CodeSystem",
							"interaction": []map[string]string{{"code": "read"}, {"code": "search-type"}},
							"operation": []map[string]string{
								{"name": "lookup", "definition": "http://hl7.org/fhir/OperationDefinition/CodeSystem-lookup"},
							},
						},
						{
							"type": "ConceptMap",
							"operation": []map[string]string{
								{"name": "translate", "definition": "http://hl7.org/fhir/OperationDefinition/ConceptMap-translate"},
							},
						},
						{
							"type": "ValueSet",
							"operation": []map[string]string{
								{"name": "expand", "definition": "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"},
							},
						},
					},
				},
			},
		}
		return c.JSON(http.StatusOK, statement)
	}
}
