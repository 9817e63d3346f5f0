package influx

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// SentinelField is emitted when a point has no encodable fields.
const SentinelField = "value"

var (
	nameEscaper   = strings.NewReplacer(" ", `\ `, ",", `\,`, "=", `\=`)
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// EncodePoint renders one line-protocol line. Tags and fields are written in
// key order so identical input always yields identical output. Field values
// may be Go scalars or telemetry.Value; unsupported values are dropped.
func EncodePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) string {
	var b strings.Builder
	b.WriteString(nameEscaper.Replace(measurement))

	for _, key := range sortedKeys(tags) {
		value := tags[key]
		if key == "" || value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(nameEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(nameEscaper.Replace(value))
	}

	b.WriteByte(' ')
	written := 0
	for _, key := range sortedKeys(fields) {
		encoded, ok := encodeField(fields[key])
		if !ok || key == "" {
			continue
		}
		if written > 0 {
			b.WriteByte(',')
		}
		b.WriteString(nameEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(encoded)
		written++
	}
	if written == 0 {
		b.WriteString(SentinelField + "=1.0")
	}

	if !ts.IsZero() {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	}
	return b.String()
}

func encodeField(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case telemetry.Value:
		return encodeValue(v)
	case string:
		return quote(v), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.FormatInt(int64(v), 10) + "i", true
	case int32:
		return strconv.FormatInt(int64(v), 10) + "i", true
	case int64:
		return strconv.FormatInt(v, 10) + "i", true
	case uint32:
		return strconv.FormatUint(uint64(v), 10) + "i", true
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	default:
		return "", false
	}
}

func encodeValue(v telemetry.Value) (string, bool) {
	switch v.Kind() {
	case telemetry.KindString:
		return quote(v.AsString("")), true
	case telemetry.KindBool:
		return strconv.FormatBool(v.AsBool(false)), true
	case telemetry.KindInt:
		return strconv.FormatInt(v.AsInt(0), 10) + "i", true
	case telemetry.KindFloat:
		return formatFloat(v.AsFloat(0))
	default:
		return "", false
	}
}

func quote(s string) string {
	return `"` + stringEscaper.Replace(s) + `"`
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
