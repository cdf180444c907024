package session

import (
	"strings"
)

// Domain is the knowledge focus of a session.
type Domain string

// Knowledge domains.
const (
	DomainGeneral    Domain = "general"
	DomainTechnical  Domain = "technical"
	DomainBusiness   Domain = "business"
	DomainScientific Domain = "scientific"
	DomainCreative   Domain = "creative"
	DomainLegal      Domain = "legal"
	DomainMedical    Domain = "medical"
)

// Persona is the voice the assistant answers in.
type Persona string

// Assistant personas.
const (
	PersonaHelpfulExpert       Persona = "helpful_expert"
	PersonaCreativeGenius      Persona = "creative_genius"
	PersonaTechnicalSpecialist Persona = "technical_specialist"
	PersonaFriendlyAdvisor     Persona = "friendly_advisor"
)

// Style is the user's preferred response style.
type Style string

// Response styles.
const (
	StyleProfessional Style = "professional"
	StyleConcise      Style = "concise"
	StyleDetailed     Style = "detailed"
	StyleCasual       Style = "casual"
)

// Model is a completion model identifier understood by the provider.
type Model string

// Supported models.
const (
	ModelLlama3  Model = "llama3-70b-8192"
	ModelMixtral Model = "mixtral-8x7b-32768"
	ModelGemma7B Model = "gemma-7b-it"
)

// DefaultModel is selected for new sessions.
const DefaultModel = ModelLlama3

// Tool is an entry of the fixed tool catalog.
type Tool string

// Tool catalog.
const (
	ToolWebSearch       Tool = "web_search"
	ToolCodeInterpreter Tool = "code_interpreter"
	ToolDataAnalysis    Tool = "data_analysis"
	ToolDocumentReader  Tool = "document_reader"
	ToolImageGenerator  Tool = "image_generator"
)

// Domains lists the knowledge domains in display order.
var Domains = []Domain{
	DomainGeneral, DomainTechnical, DomainBusiness, DomainScientific,
	DomainCreative, DomainLegal, DomainMedical,
}

// Personas lists the personas in display order.
var Personas = []Persona{
	PersonaHelpfulExpert, PersonaCreativeGenius, PersonaTechnicalSpecialist, PersonaFriendlyAdvisor,
}

// Styles lists the response styles in display order.
var Styles = []Style{StyleProfessional, StyleConcise, StyleDetailed, StyleCasual}

// Models lists the selectable models in display order.
var Models = []Model{ModelLlama3, ModelMixtral, ModelGemma7B}

// Tools lists the tool catalog in display order.
var Tools = []Tool{
	ToolWebSearch, ToolCodeInterpreter, ToolDataAnalysis, ToolDocumentReader, ToolImageGenerator,
}

var domainLabels = map[Domain]string{
	DomainGeneral:    "General Knowledge",
	DomainTechnical:  "Technical/IT",
	DomainBusiness:   "Business",
	DomainScientific: "Scientific",
	DomainCreative:   "Creative Arts",
	DomainLegal:      "Legal",
	DomainMedical:    "Medical",
}

var personaLabels = map[Persona]string{
	PersonaHelpfulExpert:       "Helpful Expert",
	PersonaCreativeGenius:      "Creative Genius",
	PersonaTechnicalSpecialist: "Technical Specialist",
	PersonaFriendlyAdvisor:     "Friendly Advisor",
}

var styleLabels = map[Style]string{
	StyleProfessional: "Professional",
	StyleConcise:      "Concise",
	StyleDetailed:     "Detailed",
	StyleCasual:       "Casual",
}

var toolLabels = map[Tool]string{
	ToolWebSearch:       "Web Search",
	ToolCodeInterpreter: "Code Interpreter",
	ToolDataAnalysis:    "Data Analysis",
	ToolDocumentReader:  "Document Reader",
	ToolImageGenerator:  "Image Generator",
}

// Label returns the display label, or the raw value for unknown domains.
func (d Domain) Label() string {
	if l, ok := domainLabels[d]; ok {
		return l
	}
	return string(d)
}

// Valid reports whether d is a catalog domain.
func (d Domain) Valid() bool {
	_, ok := domainLabels[d]
	return ok
}

// Label returns the display label, or the raw value for unknown personas.
func (p Persona) Label() string {
	if l, ok := personaLabels[p]; ok {
		return l
	}
	return string(p)
}

// Valid reports whether p is a catalog persona.
func (p Persona) Valid() bool {
	_, ok := personaLabels[p]
	return ok
}

// Label returns the display label, or the raw value for unknown styles.
func (s Style) Label() string {
	if l, ok := styleLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is a catalog style.
func (s Style) Valid() bool {
	_, ok := styleLabels[s]
	return ok
}

// Valid reports whether m is a supported model.
func (m Model) Valid() bool {
	for _, known := range Models {
		if m == known {
			return true
		}
	}
	return false
}

// Label returns the display label, or the raw value for unknown tools.
func (t Tool) Label() string {
	if l, ok := toolLabels[t]; ok {
		return l
	}
	return string(t)
}

// Valid reports whether t is in the tool catalog.
func (t Tool) Valid() bool {
	_, ok := toolLabels[t]
	return ok
}

// ParseDomain accepts an identifier or a display label, case-insensitively.
func ParseDomain(v string) (Domain, error) {
	for _, d := range Domains {
		if matches(v, string(d), d.Label()) {
			return d, nil
		}
	}
	return "", &InvalidOptionError{Field: "domain", Value: v}
}

// ParsePersona accepts an identifier or a display label, case-insensitively.
func ParsePersona(v string) (Persona, error) {
	for _, p := range Personas {
		if matches(v, string(p), p.Label()) {
			return p, nil
		}
	}
	return "", &InvalidOptionError{Field: "persona", Value: v}
}

// ParseStyle accepts an identifier or a display label, case-insensitively.
func ParseStyle(v string) (Style, error) {
	for _, s := range Styles {
		if matches(v, string(s), s.Label()) {
			return s, nil
		}
	}
	return "", &InvalidOptionError{Field: "preferred_style", Value: v}
}

// ParseModel accepts a model identifier, case-insensitively.
func ParseModel(v string) (Model, error) {
	for _, m := range Models {
		if matches(v, string(m), string(m)) {
			return m, nil
		}
	}
	return "", &InvalidOptionError{Field: "model", Value: v}
}

// ParseTool accepts an identifier or a display label, case-insensitively.
func ParseTool(v string) (Tool, error) {
	for _, t := range Tools {
		if matches(v, string(t), t.Label()) {
			return t, nil
		}
	}
	return "", &InvalidOptionError{Field: "tools", Value: v}
}

func matches(v, id, label string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, id) || strings.EqualFold(v, label)
}

// Choice is one selectable catalog entry.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Catalog lists every selectable option in display order.
type Catalog struct {
	Domains  []Choice `json:"domains"`
	Personas []Choice `json:"personas"`
	Styles   []Choice `json:"styles"`
	Models   []Choice `json:"models"`
	Tools    []Choice `json:"tools"`
}

// Options returns the full catalog.
func Options() Catalog {
	var c Catalog
	for _, d := range Domains {
		c.Domains = append(c.Domains, Choice{ID: string(d), Label: d.Label()})
	}
	for _, p := range Personas {
		c.Personas = append(c.Personas, Choice{ID: string(p), Label: p.Label()})
	}
	for _, s := range Styles {
		c.Styles = append(c.Styles, Choice{ID: string(s), Label: s.Label()})
	}
	for _, m := range Models {
		c.Models = append(c.Models, Choice{ID: string(m), Label: string(m)})
	}
	for _, t := range Tools {
		c.Tools = append(c.Tools, Choice{ID: string(t), Label: t.Label()})
	}
	return c
}
