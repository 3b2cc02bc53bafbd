package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Limit is a plan resource limit: either a bounded numeric cap or
// unlimited. The JSON form is a number for bounded limits and the string
// "unlimited" for the unbounded case, so plan rows written by earlier
// versions of the catalog keep decoding.
type Limit struct {
	unlimited bool
	value     float64
}

func Bounded(v float64) Limit     { return Limit{value: v} }
func Unlimited() Limit            { return Limit{unlimited: true} }
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the bounded cap. Meaningless when IsUnlimited.
func (l Limit) Value() float64 { return l.value }

// Admits reports whether a proposed total fits under the limit.
func (l Limit) Admits(proposed float64) bool {
	return l.unlimited || proposed <= l.value
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.value)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case string:
		if typed != "unlimited" {
			return fmt.Errorf("invalid limit value %q", typed)
		}
		*l = Unlimited()
		return nil
	case float64:
		*l = Bounded(typed)
		return nil
	default:
		return fmt.Errorf("invalid limit value %v", raw)
	}
}

// LimitMap maps resource names to limits and is stored as a JSON column.
// New metered resources need no schema migration.
type LimitMap map[string]Limit

func (m LimitMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *LimitMap) Scan(src any) error {
	var data []byte
	switch typed := src.(type) {
	case []byte:
		data = typed
	case string:
		data = []byte(typed)
	case nil:
		*m = LimitMap{}
		return nil
	default:
		return errors.New("unsupported limit map source")
	}
	if len(data) == 0 {
		*m = LimitMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}
