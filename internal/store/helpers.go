package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sourceColumns is the column list scanSource expects.
const sourceColumns = `id, name, config_json, created_at, updated_at`

// pullColumns is the column list scanPull expects.
const pullColumns = `id, source_id, fields_json, row_count, page_count, status, error, started_at, finished_at`

// scanSource scans a Source and decodes its JSON config column.
func scanSource(r rowScanner) (models.Source, error) {
	var src models.Source
	var configJSON string
	if err := r.Scan(&src.ID, &src.Name, &configJSON, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return src, err
	}
	if err := json.Unmarshal([]byte(configJSON), &src.Config); err != nil {
		return src, fmt.Errorf("decode config of source %s: %w", src.ID, err)
	}
	return src, nil
}

// scanPull scans a Pull and decodes its JSON field list.
func scanPull(r rowScanner) (models.Pull, error) {
	var p models.Pull
	var fieldsJSON string
	var errMsg sql.NullString
	if err := r.Scan(&p.ID, &p.SourceID, &fieldsJSON, &p.Rows, &p.Pages, &p.Status, &errMsg, &p.StartedAt, &p.FinishedAt); err != nil {
		return p, fmt.Errorf("scan pull failed: %w", err)
	}
	p.Error = errMsg.String
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
			return p, fmt.Errorf("decode fields of pull %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// encodeJSON marshals v for a JSON text column.
func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// collectPulls drains rows into a slice.
func collectPulls(rows *sql.Rows) ([]models.Pull, error) {
	defer rows.Close()
	pulls := []models.Pull{}
	for rows.Next() {
		p, err := scanPull(rows)
		if err != nil {
			return nil, err
		}
		pulls = append(pulls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pull rows: %w", err)
	}
	return pulls, nil
}

// collectSources drains rows into a slice.
func collectSources(rows *sql.Rows) ([]models.Source, error) {
	defer rows.Close()
	sources := []models.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source failed: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source rows: %w", err)
	}
	return sources, nil
}
