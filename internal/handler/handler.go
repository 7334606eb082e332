// Package handler holds the compile-time declarative registry mapping each
// extract type to its landing table, staging table, column order, natural
// key, and per-column transformations. Adding a new extract type means
// editing the registry and its migration, not writing a new handler class.
// An operator can still tune validation rules and required-ness per column
// at startup via LoadOverrides, without recompiling.
package handler

import (
	"fmt"

	"github.com/healthlake-io/ingestlake/internal/filename"
)

// TargetType is the staging column's coerced type.
type TargetType string

const (
	TypeText      TargetType = "text"
	TypeInteger   TargetType = "integer"
	TypeDecimal   TargetType = "decimal"
	TypeBoolean   TargetType = "boolean"
	TypeDate      TargetType = "date"
	TypeTimestamp TargetType = "timestamp"
)

// ValidationRule is a named, parameterized validation applied after
// successful type coercion.
type ValidationRule struct {
	Name    string `yaml:"name"` // "regex", "range", "email"
	Pattern string `yaml:"pattern,omitempty"`
	Min     float64 `yaml:"min,omitempty"`
	Max     float64 `yaml:"max,omitempty"`
}

// Transformation describes how one source column becomes one staging
// column: its target type, whether it is required, and any validation
// rules run after coercion.
type Transformation struct {
	SourceColumn string
	TargetColumn string
	TargetType   TargetType
	Required     bool
	Rules        []ValidationRule
}

// Handler is the full declarative description of one extract type.
type Handler struct {
	ExtractType     filename.ExtractType
	LandingTable    string   // unqualified, within the raw schema.
	LandingColumns  []string // positional source-to-landing column order.
	StagingTable    string   // unqualified, within the stg schema.
	NaturalKey      []string // staging conflict columns.
	Transformations []Transformation
}

// ErrUnknownExtractType is returned by For when no handler is registered.
type ErrUnknownExtractType struct {
	ExtractType filename.ExtractType
}

func (e *ErrUnknownExtractType) Error() string {
	return fmt.Sprintf("handler: no registered handler for extract type %q", e.ExtractType)
}

// registry is the compile-time table of every supported extract type.
var registry = map[filename.ExtractType]Handler{
	filename.ExtractPatients: {
		ExtractType: filename.ExtractPatients,
		LandingTable: "patients",
		LandingColumns: []string{
			"patient_id", "practice_id", "per_org_id", "first_name", "last_name",
			"date_of_birth", "gender", "nhi_number", "address_line1", "city",
			"post_code", "phone", "email", "loaded_date_time",
		},
		StagingTable: "patients",
		NaturalKey:   []string{"patient_id", "practice_id", "per_org_id"},
		Transformations: []Transformation{
			{SourceColumn: "patient_id", TargetColumn: "patient_id", TargetType: TypeText, Required: true},
			{SourceColumn: "practice_id", TargetColumn: "practice_id", TargetType: TypeText, Required: true},
			{SourceColumn: "per_org_id", TargetColumn: "per_org_id", TargetType: TypeText, Required: true},
			{SourceColumn: "first_name", TargetColumn: "first_name", TargetType: TypeText, Required: true},
			{SourceColumn: "last_name", TargetColumn: "last_name", TargetType: TypeText, Required: true},
			{SourceColumn: "date_of_birth", TargetColumn: "date_of_birth", TargetType: TypeDate, Required: true},
			{SourceColumn: "gender", TargetColumn: "gender", TargetType: TypeText},
			{
				SourceColumn: "nhi_number", TargetColumn: "nhi_number", TargetType: TypeText,
				Rules: []ValidationRule{{Name: "regex", Pattern: `^[A-Z]{3}[0-9]{4}$`}},
			},
			{SourceColumn: "address_line1", TargetColumn: "address_line1", TargetType: TypeText},
			{SourceColumn: "city", TargetColumn: "city", TargetType: TypeText},
			{SourceColumn: "post_code", TargetColumn: "post_code", TargetType: TypeText},
			{SourceColumn: "phone", TargetColumn: "phone", TargetType: TypeText},
			{
				SourceColumn: "email", TargetColumn: "email", TargetType: TypeText,
				Rules: []ValidationRule{{Name: "email"}},
			},
			{SourceColumn: "loaded_date_time", TargetColumn: "loaded_date_time", TargetType: TypeTimestamp},
		},
	},
	filename.ExtractProviders: {
		ExtractType:  filename.ExtractProviders,
		LandingTable: "providers",
		LandingColumns: []string{
			"provider_id", "practice_id", "per_org_id", "provider_name", "provider_type",
			"npi_number", "email", "phone", "loaded_date_time",
		},
		StagingTable: "providers",
		NaturalKey:   []string{"provider_id", "practice_id", "per_org_id"},
		Transformations: []Transformation{
			{SourceColumn: "provider_id", TargetColumn: "provider_id", TargetType: TypeText, Required: true},
			{SourceColumn: "practice_id", TargetColumn: "practice_id", TargetType: TypeText, Required: true},
			{SourceColumn: "per_org_id", TargetColumn: "per_org_id", TargetType: TypeText, Required: true},
			{SourceColumn: "provider_name", TargetColumn: "provider_name", TargetType: TypeText, Required: true},
			{SourceColumn: "provider_type", TargetColumn: "provider_type", TargetType: TypeText},
			{SourceColumn: "npi_number", TargetColumn: "npi_number", TargetType: TypeText},
			{
				SourceColumn: "email", TargetColumn: "email", TargetType: TypeText,
				Rules: []ValidationRule{{Name: "email"}},
			},
			{SourceColumn: "phone", TargetColumn: "phone", TargetType: TypeText},
			{SourceColumn: "loaded_date_time", TargetColumn: "loaded_date_time", TargetType: TypeTimestamp},
		},
	},
	filename.ExtractAppointments: {
		ExtractType:  filename.ExtractAppointments,
		LandingTable: "appointments",
		LandingColumns: []string{
			"appointment_id", "practice_id", "per_org_id", "patient_id", "provider_id",
			"appointment_date_time", "status", "appointment_type", "loaded_date_time",
		},
		StagingTable: "appointments",
		NaturalKey:   []string{"appointment_id", "practice_id", "per_org_id"},
		Transformations: []Transformation{
			{SourceColumn: "appointment_id", TargetColumn: "appointment_id", TargetType: TypeText, Required: true},
			{SourceColumn: "practice_id", TargetColumn: "practice_id", TargetType: TypeText, Required: true},
			{SourceColumn: "per_org_id", TargetColumn: "per_org_id", TargetType: TypeText, Required: true},
			{SourceColumn: "patient_id", TargetColumn: "patient_id", TargetType: TypeText, Required: true},
			{SourceColumn: "provider_id", TargetColumn: "provider_id", TargetType: TypeText},
			{SourceColumn: "appointment_date_time", TargetColumn: "appointment_date_time", TargetType: TypeTimestamp, Required: true},
			{SourceColumn: "status", TargetColumn: "status", TargetType: TypeText},
			{SourceColumn: "appointment_type", TargetColumn: "appointment_type", TargetType: TypeText},
			{SourceColumn: "loaded_date_time", TargetColumn: "loaded_date_time", TargetType: TypeTimestamp},
		},
	},
	filename.ExtractImmunisations: {
		ExtractType:  filename.ExtractImmunisations,
		LandingTable: "immunisations",
		LandingColumns: []string{
			"immunisation_id", "practice_id", "per_org_id", "patient_id", "vaccine_code",
			"vaccine_name", "administered_date", "dose_number", "loaded_date_time",
		},
		StagingTable: "immunisations",
		NaturalKey:   []string{"immunisation_id", "practice_id", "per_org_id"},
		Transformations: []Transformation{
			{SourceColumn: "immunisation_id", TargetColumn: "immunisation_id", TargetType: TypeText, Required: true},
			{SourceColumn: "practice_id", TargetColumn: "practice_id", TargetType: TypeText, Required: true},
			{SourceColumn: "per_org_id", TargetColumn: "per_org_id", TargetType: TypeText, Required: true},
			{SourceColumn: "patient_id", TargetColumn: "patient_id", TargetType: TypeText, Required: true},
			{SourceColumn: "vaccine_code", TargetColumn: "vaccine_code", TargetType: TypeText, Required: true},
			{SourceColumn: "vaccine_name", TargetColumn: "vaccine_name", TargetType: TypeText},
			{SourceColumn: "administered_date", TargetColumn: "administered_date", TargetType: TypeDate, Required: true},
			{SourceColumn: "dose_number", TargetColumn: "dose_number", TargetType: TypeInteger},
			{SourceColumn: "loaded_date_time", TargetColumn: "loaded_date_time", TargetType: TypeTimestamp},
		},
	},
}

// For returns the registered Handler for et, or ErrUnknownExtractType.
func For(et filename.ExtractType) (Handler, error) {
	h, ok := registry[et]
	if !ok {
		return Handler{}, &ErrUnknownExtractType{ExtractType: et}
	}

	return h, nil
}

// All returns every registered Handler, sorted is not guaranteed — callers
// needing a stable order should sort on ExtractType themselves.
func All() []Handler {
	out := make([]Handler, 0, len(registry))
	for _, h := range registry {
		out = append(out, h)
	}

	return out
}
