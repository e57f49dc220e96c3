package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/tidwall/gjson"
)

// hourLayout is the YEAR_MONTH_DAY_HOUR format.
const hourLayout = "2006010215"

// gjson paths of the fixed fields inside a run.
var fixedPaths = map[string]string{
	FieldContactURN:  "contact.urn",
	FieldContactUUID: "contact.uuid",
	FieldContactName: "contact.name",
	FieldCreatedOn:   "created_on",
	FieldModifiedOn:  "modified_on",
	FieldExitedOn:    "exited_on",
	FieldExitType:    "exit_type",
	FieldResponded:   "responded",
}

// MapRow projects one raw run onto fields, which must come from a Schema
// (see Schema.ForIDs). The row has exactly one value per field, in order.
func MapRow(fields []models.Field, run gjson.Result) models.Row {
	values := make([]interface{}, len(fields))
	var results map[string]gjson.Result
	for i, f := range fields {
		if f.IsResult() {
			if results == nil {
				results = run.Get("values").Map()
			}
			values[i] = resultValue(results, f)
			continue
		}
		values[i] = fixedValue(f, run.Get(fixedPaths[f.ID]))
	}
	return models.Row{Values: values}
}

// MapRows maps each raw run in order.
func MapRows(fields []models.Field, runs []json.RawMessage) []models.Row {
	rows := make([]models.Row, 0, len(runs))
	for _, raw := range runs {
		rows = append(rows, MapRow(fields, gjson.ParseBytes(raw)))
	}
	return rows
}

func fixedValue(f models.Field, v gjson.Result) interface{} {
	switch f.ID {
	case FieldContactUUID, FieldResponded:
		return v.Value()
	}
	if f.Type == models.FieldTypeYearMonthDayHour {
		return ToDate(v.Value())
	}
	return ToString(v.Value())
}

func resultValue(results map[string]gjson.Result, f models.Field) string {
	r, ok := results[f.ResultKey]
	if !ok {
		return ""
	}
	if f.Part == models.ResultPartCategory {
		return ToString(r.Get("category").Value())
	}
	return ToString(r.Get("value").Value())
}

// ToString converts a decoded JSON value to text. nil becomes "".
func ToString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ToDate formats a timestamp as YYYYMMDDHH in UTC. nil, empty and
// unparseable values become "".
func ToDate(val interface{}) string {
	switch v := val.(type) {
	case time.Time:
		return v.UTC().Format(hourLayout)
	case string:
		if v == "" {
			return ""
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return ""
		}
		return t.UTC().Format(hourLayout)
	default:
		return ""
	}
}
