package fhir

// Coding is a FHIR Coding element.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Parameter is one entry of a Parameters resource. Only the value types this
// server emits are modeled.
type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueUri     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueDecimal *float64    `json:"valueDecimal,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

// Parameters is a FHIR Parameters resource.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// ParametersBuilder accumulates parameters fluently.
type ParametersBuilder struct {
	params []Parameter
}

func NewParameters() *ParametersBuilder {
	return &ParametersBuilder{}
}

func (b *ParametersBuilder) String(name, value string) *ParametersBuilder {
	b.params = append(b.params, Parameter{Name: name, ValueString: value})
	return b
}

func (b *ParametersBuilder) Code(name, value string) *ParametersBuilder {
	b.params = append(b.params, Parameter{Name: name, ValueCode: value})
	return b
}

func (b *ParametersBuilder) Bool(name string, value bool) *ParametersBuilder {
	b.params = append(b.params, Parameter{Name: name, ValueBoolean: &value})
	return b
}

func (b *ParametersBuilder) Decimal(name string, value float64) *ParametersBuilder {
	b.params = append(b.params, Parameter{Name: name, ValueDecimal: &value})
	return b
}

func (b *ParametersBuilder) Part(name string, parts ...Parameter) *ParametersBuilder {
	b.params = append(b.params, Parameter{Name: name, Part: parts})
	return b
}

func (b *ParametersBuilder) Build() *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: b.params}
}

// ParseParameters extracts the named string-ish values from a POSTed
// Parameters resource body.
func ParseParameters(p *Parameters) map[string]string {
	out := make(map[string]string, len(p.Parameter))
	for _, param := range p.Parameter {
		switch {
		case param.ValueCode != "":
			out[param.Name] = param.ValueCode
		case param.ValueUri != "":
			out[param.Name] = param.ValueUri
		case param.ValueString != "":
			out[param.Name] = param.ValueString
		}
	}
	return out
}
