// Package schema derives the field catalog for a flow and maps raw RapidPro
// runs onto it.
package schema

import (
	"log/slog"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// Fixed field ids. They start with an underscore so they read apart from
// result keys.
const (
	FieldContactURN  = "_contact_urn"
	FieldContactUUID = "_contact_uuid"
	FieldContactName = "_contact_name"
	FieldCreatedOn   = "_created_on"
	FieldModifiedOn  = "_modified_on"
	FieldExitedOn    = "_exited_on"
	FieldExitType    = "_exit_type"
	FieldResponded   = "_responded"
)

// Suffixes appended to a result key to form its dynamic field ids.
const (
	ValueSuffix    = "_value"
	CategorySuffix = "_category"
)

// FixedFields returns the eight system fields in catalog order.
func FixedFields() []models.Field {
	return []models.Field{
		dimension(FieldContactURN, "Contact URN", models.FieldTypeText),
		dimension(FieldContactUUID, "Contact UUID", models.FieldTypeText),
		dimension(FieldContactName, "Contact Name", models.FieldTypeText),
		dimension(FieldCreatedOn, "Created On", models.FieldTypeYearMonthDayHour),
		dimension(FieldModifiedOn, "Modified On", models.FieldTypeYearMonthDayHour),
		dimension(FieldExitedOn, "Exited On", models.FieldTypeYearMonthDayHour),
		dimension(FieldExitType, "Exit Type", models.FieldTypeText),
		dimension(FieldResponded, "Responded", models.FieldTypeBoolean),
	}
}

// ResultFields returns the value and category fields for one flow result.
func ResultFields(r models.FlowResult) []models.Field {
	value := dimension(r.Key+ValueSuffix, r.Name+" - Value", models.FieldTypeText)
	value.ResultKey, value.Part = r.Key, models.ResultPartValue
	category := dimension(r.Key+CategorySuffix, r.Name+" - Category", models.FieldTypeText)
	category.ResultKey, category.Part = r.Key, models.ResultPartCategory
	return []models.Field{value, category}
}

// Build returns the full catalog for flow: the fixed fields followed by a
// value/category pair per result definition, in API order. A nil flow or one
// without results yields the fixed fields only.
func Build(flow *models.Flow) *models.Schema {
	fields := FixedFields()
	switch {
	case flow == nil:
		slog.Warn("schema.Build: sampled flow not found, only system fields available")
	case len(flow.Results) == 0:
		slog.Warn("schema.Build: flow declares no results, only system fields available", "flow_uuid", flow.UUID)
	default:
		for _, r := range flow.Results {
			fields = append(fields, ResultFields(r)...)
		}
	}
	slog.Debug("schema.Build: catalog built", "fields", len(fields))
	return &models.Schema{Fields: fields, DefaultDimension: FieldContactURN}
}

func dimension(id, name string, t models.FieldType) models.Field {
	return models.Field{ID: id, Name: name, Type: t, Concept: models.ConceptDimension}
}
