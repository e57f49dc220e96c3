package models

import (
	"errors"
	"fmt"
)

// FieldType is the semantic type the reporting host uses to render a field.
type FieldType string

const (
	// FieldTypeText is free text.
	FieldTypeText FieldType = "TEXT"
	// FieldTypeYearMonthDayHour is a UTC timestamp truncated to the hour (YYYYMMDDHH).
	FieldTypeYearMonthDayHour FieldType = "YEAR_MONTH_DAY_HOUR"
	// FieldTypeBoolean is true/false.
	FieldTypeBoolean FieldType = "BOOLEAN"
)

// ConceptType tells the host how a field may be used in a report.
type ConceptType string

// ConceptDimension marks a field usable as a dimension. Every RunPipe field is one.
const ConceptDimension ConceptType = "DIMENSION"

// ResultPart selects which half of a flow result a dynamic field carries.
type ResultPart string

const (
	// ResultPartNone marks a fixed (non result) field.
	ResultPartNone ResultPart = ""
	// ResultPartValue is the raw value the contact gave.
	ResultPartValue ResultPart = "value"
	// ResultPartCategory is the category the value was sorted into.
	ResultPartCategory ResultPart = "category"
)

// ErrUnknownField is returned when a requested field id is not in the schema.
var ErrUnknownField = errors.New("unknown field")

// Field describes one column of the output.
type Field struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Type    FieldType   `json:"type"`
	Concept ConceptType `json:"concept"`

	// ResultKey and Part are set for dynamic result fields only.
	ResultKey string     `json:"-"`
	Part      ResultPart `json:"-"`
}

// IsResult reports whether the field is derived from a flow result.
func (f Field) IsResult() bool {
	return f.Part != ResultPartNone
}

// Schema is the full field catalog for one configured flow.
type Schema struct {
	Fields           []Field `json:"fields"`
	DefaultDimension string  `json:"default_dimension"`
}

// ForIDs projects the schema onto the requested field ids, keeping the
// requested order. Duplicate ids are kept; unknown ids fail.
func (s *Schema) ForIDs(ids []string) ([]Field, error) {
	byID := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		byID[f.ID] = f
	}
	fields := make([]Field, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, id)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// IDs returns the field ids in catalog order.
func (s *Schema) IDs() []string {
	ids := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		ids[i] = f.ID
	}
	return ids
}

// Row is one output record; Values line up with the requested fields.
type Row struct {
	Values []interface{} `json:"values"`
}

// RequestedField names one field the host wants back.
type RequestedField struct {
	Name string `json:"name"`
}

// DataRequest is the host's request for rows.
type DataRequest struct {
	Config ConnectionConfig `json:"config_params"`
	Fields []RequestedField `json:"fields"`
}

// FieldIDs returns the requested ids in order.
func (r DataRequest) FieldIDs() []string {
	ids := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		ids[i] = f.Name
	}
	return ids
}

// DataResponse carries the requested fields and all rows for them.
type DataResponse struct {
	Schema []Field `json:"schema"`
	Rows   []Row   `json:"rows"`
	// Pages is the number of API pages walked to build Rows.
	Pages int `json:"pages"`
}
