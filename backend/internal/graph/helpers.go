package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Record Helpers
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getIntFromRecord(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	return toFloat64(val)
}

func getStringSliceFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]interface{}); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return []string{}
}

// getVectorFromRecord decodes a list property into a float vector; nil when
// the property is absent.
func getVectorFromRecord(record *neo4j.Record, key string) []float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	return toVector(val)
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func getStringFromMap(m map[string]interface{}, key, defaultValue string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0.0
}

func toVector(val any) []float64 {
	switch v := val.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, x := range v {
			out = append(out, toFloat64(x))
		}
		return out
	}
	return nil
}

func lowerLabel(l Label) string {
	return strings.ToLower(string(l))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func masteryFromRecords(records []*neo4j.Record) []MasteryEdge {
	out := make([]MasteryEdge, 0, len(records))
	for _, rec := range records {
		out = append(out, MasteryEdge{
			StudentID:   getStringFromRecord(rec, "student_id"),
			ModuleID:    getStringFromRecord(rec, "module_id"),
			Mastery:     getFloat64FromRecord(rec, "mastery"),
			Quizzes:     getIntFromRecord(rec, "quizzes"),
			TotalPoints: getFloat64FromRecord(rec, "total_points"),
		})
	}
	return out
}

func refsFromRecords(records []*neo4j.Record, withMastery bool) []ModuleRef {
	out := make([]ModuleRef, 0, len(records))
	for _, rec := range records {
		ref := ModuleRef{
			ID:   getStringFromRecord(rec, "id"),
			Name: getStringFromRecord(rec, "name"),
		}
		if withMastery {
			ref.Mastery = getFloat64FromRecord(rec, "mastery")
		}
		out = append(out, ref)
	}
	return out
}
