package main

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxPointsPerMeasurement = 50000

var (
	fromPattern    = regexp.MustCompile(`(?i)\bFROM\s+"?([A-Za-z0-9_]+)"?`)
	stationPattern = regexp.MustCompile(`station_id\s*=\s*'((?:[^']|'')*)'`)
	limitPattern   = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	rangePattern   = regexp.MustCompile(`time\s*(>=|<=)\s*'([^']+)'`)
)

type point struct {
	Tags   map[string]string
	Fields map[string]any
	Time   time.Time
}

type fakeTSDB struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	token    string
	logger   logrus.FieldLogger

	mu     sync.RWMutex
	points map[string][]point

	writes   int64
	lines    int64
	rejected int64
	queries  int64
}

func main() {
	addr := getenvDefault("FAKE_TSDB_ADDR", ":18181")
	latencyMs := getenvIntDefault("FAKE_TSDB_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_TSDB_FAIL_RATE", 0)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	srv := &fakeTSDB{
		start:    time.Now().UTC(),
		latency:  time.Duration(latencyMs) * time.Millisecond,
		failRate: failRate,
		token:    os.Getenv("FAKE_TSDB_TOKEN"),
		logger:   logger,
		points:   make(map[string][]point),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", srv.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/v2/write", srv.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/api/v3/write_lp", srv.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/api/v3/query/sql", srv.handleQuery).Methods(http.MethodPost)

	logger.WithFields(logrus.Fields{
		"addr":      addr,
		"latency":   srv.latency,
		"fail_rate": failRate,
	}).Info("fake time-series server listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.WithError(err).Fatal("fake time-series server stopped")
	}
}

func (s *fakeTSDB) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *fakeTSDB) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	counts := make(map[string]int, len(s.points))
	for name, pts := range s.points {
		counts[name] = len(pts)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":     s.start.Format(time.RFC3339),
		"writes":         atomic.LoadInt64(&s.writes),
		"lines":          atomic.LoadInt64(&s.lines),
		"rejected":       atomic.LoadInt64(&s.rejected),
		"queries":        atomic.LoadInt64(&s.queries),
		"by_measurement": counts,
	})
}

func (s *fakeTSDB) handleWrite(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.delay()
	atomic.AddInt64(&s.writes, 1)
	if s.shouldFail() {
		atomic.AddInt64(&s.rejected, 1)
		http.Error(w, "injected write failure", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		measurement, p, err := parseLine(line)
		if err != nil {
			s.logger.WithError(err).WithField("line", line).Warn("rejected line")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.store(measurement, p)
		accepted++
	}
	atomic.AddInt64(&s.lines, int64(accepted))
	s.logger.WithFields(logrus.Fields{
		"bucket": r.URL.Query().Get("bucket"),
		"lines":  accepted,
	}).Debug("write accepted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeTSDB) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.delay()
	atomic.AddInt64(&s.queries, 1)
	if s.shouldFail() {
		http.Error(w, "injected query failure", http.StatusServiceUnavailable)
		return
	}
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	query := strings.TrimSpace(payload.Query)
	if strings.EqualFold(query, "SHOW TABLES") {
		writeJSON(w, http.StatusOK, s.tables())
		return
	}
	match := fromPattern.FindStringSubmatch(query)
	if match == nil {
		http.Error(w, "unsupported query", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.selectRows(match[1], query))
}

func (s *fakeTSDB) store(measurement string, p point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := append(s.points[measurement], p)
	if len(pts) > maxPointsPerMeasurement {
		pts = pts[len(pts)-maxPointsPerMeasurement:]
	}
	s.points[measurement] = pts
}

func (s *fakeTSDB) tables() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.points))
	for name := range s.points {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{
			"table_catalog": "public",
			"table_schema":  "iox",
			"table_name":    name,
			"table_type":    "BASE TABLE",
		})
	}
	return out
}

func (s *fakeTSDB) selectRows(measurement, query string) []map[string]any {
	station := ""
	if m := stationPattern.FindStringSubmatch(query); m != nil {
		station = strings.ReplaceAll(m[1], "''", "'")
	}
	var from, to time.Time
	for _, m := range rangePattern.FindAllStringSubmatch(query, -1) {
		ts, err := time.Parse(time.RFC3339Nano, m[2])
		if err != nil {
			continue
		}
		if m[1] == ">=" {
			from = ts
		} else {
			to = ts
		}
	}
	limit := 0
	if m := limitPattern.FindStringSubmatch(query); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	desc := strings.Contains(strings.ToUpper(query), "DESC")

	s.mu.RLock()
	selected := make([]point, 0)
	for _, p := range s.points[measurement] {
		if station != "" && p.Tags["station_id"] != station {
			continue
		}
		if !from.IsZero() && p.Time.Before(from) {
			continue
		}
		if !to.IsZero() && p.Time.After(to) {
			continue
		}
		selected = append(selected, p)
	}
	s.mu.RUnlock()

	sort.SliceStable(selected, func(i, j int) bool {
		if desc {
			return selected[i].Time.After(selected[j].Time)
		}
		return selected[i].Time.Before(selected[j].Time)
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	rows := make([]map[string]any, 0, len(selected))
	for _, p := range selected {
		row := make(map[string]any, len(p.Tags)+len(p.Fields)+1)
		for k, v := range p.Tags {
			row[k] = v
		}
		for k, v := range p.Fields {
			row[k] = v
		}
		row["time"] = p.Time.Format(time.RFC3339Nano)
		rows = append(rows, row)
	}
	return rows
}

func (s *fakeTSDB) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *fakeTSDB) delay() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

func (s *fakeTSDB) shouldFail() bool {
	return s.failRate > 0 && rand.Float64() < s.failRate
}

// parseLine decodes one line-protocol line: measurement[,tags] fields [ts].
func parseLine(line string) (string, point, error) {
	head, rest, ok := cutUnescaped(line, ' ')
	if !ok {
		return "", point{}, errLine("missing fields")
	}
	fieldPart, tsPart, _ := cutUnescaped(rest, ' ')

	parts := splitUnescaped(head, ',')
	measurement := unescape(parts[0])
	if measurement == "" {
		return "", point{}, errLine("missing measurement")
	}
	p := point{Tags: make(map[string]string), Fields: make(map[string]any), Time: time.Now().UTC()}
	for _, tag := range parts[1:] {
		k, v, ok := cutUnescaped(tag, '=')
		if !ok {
			return "", point{}, errLine("bad tag " + tag)
		}
		p.Tags[unescape(k)] = unescape(v)
	}
	for _, field := range splitUnescaped(fieldPart, ',') {
		k, v, ok := cutUnescaped(field, '=')
		if !ok {
			return "", point{}, errLine("bad field " + field)
		}
		value, err := parseFieldValue(v)
		if err != nil {
			return "", point{}, err
		}
		p.Fields[unescape(k)] = value
	}
	if len(p.Fields) == 0 {
		return "", point{}, errLine("no fields")
	}
	if tsPart = strings.TrimSpace(tsPart); tsPart != "" {
		ns, err := strconv.ParseInt(tsPart, 10, 64)
		if err != nil {
			return "", point{}, errLine("bad timestamp " + tsPart)
		}
		p.Time = time.Unix(0, ns).UTC()
	}
	return measurement, p, nil
}

func parseFieldValue(raw string) (any, error) {
	switch {
	case strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2:
		inner := raw[1 : len(raw)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		return strings.ReplaceAll(inner, `\\`, `\`), nil
	case strings.HasSuffix(raw, "i"):
		return strconv.ParseInt(strings.TrimSuffix(raw, "i"), 10, 64)
	case raw == "t" || raw == "T" || raw == "true" || raw == "True" || raw == "TRUE":
		return true, nil
	case raw == "f" || raw == "F" || raw == "false" || raw == "False" || raw == "FALSE":
		return false, nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errLine("bad field value " + raw)
		}
		return f, nil
	}
}

// cutUnescaped splits at the first sep that is neither escaped nor quoted.
func cutUnescaped(s string, sep byte) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

func splitUnescaped(s string, sep byte) []string {
	var out []string
	for {
		head, rest, ok := cutUnescaped(s, sep)
		out = append(out, head)
		if !ok {
			return out
		}
		s = rest
	}
}

var unescaper = strings.NewReplacer(`\ `, " ", `\,`, ",", `\=`, "=")

func unescape(s string) string {
	return unescaper.Replace(s)
}

type errLine string

func (e errLine) Error() string { return "line protocol: " + string(e) }

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
