package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func jsonValue(v interface{}, label string) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", label, err)
	}
	return data, nil
}

// scanJSON decodes a JSONB column into dest. It reports false when the column was empty.
func scanJSON(value interface{}, dest interface{}, label string) (bool, error) {
	if value == nil {
		return false, nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return false, fmt.Errorf("unsupported type %T for %s", value, label)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", label, err)
	}
	return true, nil
}

// JSONMap stores free-form structured details persisted as JSONB.
type JSONMap map[string]interface{}

// Value marshals the map for persistence.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		m = JSONMap{}
	}
	return jsonValue(map[string]interface{}(m), "json map")
}

// Scan unmarshals a JSONB payload into the map.
func (m *JSONMap) Scan(value interface{}) error {
	decoded := map[string]interface{}{}
	if _, err := scanJSON(value, &decoded, "json map"); err != nil {
		return err
	}
	*m = decoded
	return nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
