// Package loader discovers daily run files and parses them into canonical
// per-title records. The day is the atomic ingestion unit: a file that cannot
// be parsed fails its day, while malformed rows inside a parseable file are
// skipped with a warning.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
)

var dateRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// RunFile is one discovered pruned run file with its snapshot date.
type RunFile struct {
	Date time.Time
	Path string
}

// Loader parses pruned run files.
type Loader struct {
	log zerolog.Logger
}

// New creates a new loader.
func New(log zerolog.Logger) *Loader {
	return &Loader{
		log: log.With().Str("component", "loader").Logger(),
	}
}

// Discover finds pruned run files under runsDir/YYYY-MM-DD/pruned/*.json and
// returns them sorted by date. Files without a date in their path are skipped.
func (l *Loader) Discover(runsDir string) ([]RunFile, error) {
	if _, err := os.Stat(runsDir); err != nil {
		return nil, fmt.Errorf("runs dir not found: %s: %w", runsDir, err)
	}

	paths, err := filepath.Glob(filepath.Join(runsDir, "*", "pruned", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob runs dir %s: %w", runsDir, err)
	}

	files := make([]RunFile, 0, len(paths))
	for _, p := range paths {
		m := dateRe.FindString(p)
		if m == "" {
			l.log.Warn().Str("path", p).Msg("Run file has no date in path, skipping")
			continue
		}
		date, err := time.Parse(domain.DateLayout, m)
		if err != nil {
			l.log.Warn().Str("path", p).Str("date", m).Msg("Run file has unparseable date, skipping")
			continue
		}
		files = append(files, RunFile{Date: date, Path: p})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Date.Equal(files[j].Date) {
			return files[i].Path < files[j].Path
		}
		return files[i].Date.Before(files[j].Date)
	})

	return files, nil
}

// Load parses one run file into canonical title records. Three JSON shapes
// are accepted: {"data": [...]}, an object of per-title objects, or a bare
// array. Any other shape is an error and fails the day.
func (l *Loader) Load(path string) ([]domain.TitleRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}

	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse run file %s: %w", path, err)
	}

	rows, err := extractRows(obj)
	if err != nil {
		return nil, fmt.Errorf("unsupported JSON shape in %s: %w", path, err)
	}

	records := make([]domain.TitleRecord, 0, len(rows))
	for i, row := range rows {
		rec, ok := l.parseRecord(row)
		if !ok {
			l.log.Warn().Str("path", path).Int("row", i).Msg("Row has no universe id, skipping")
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// extractRows normalizes the accepted JSON shapes to a list of row objects.
func extractRows(obj any) ([]map[string]any, error) {
	switch v := obj.(type) {
	case []any:
		return objectRows(v)
	case map[string]any:
		if data, ok := v["data"]; ok {
			if list, ok := data.([]any); ok {
				return objectRows(list)
			}
			return nil, fmt.Errorf("\"data\" is not a list")
		}
		// Object of per-title objects: every value must itself be an object.
		rows := make([]map[string]any, 0, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m, ok := v[k].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("value for key %q is not an object", k)
			}
			rows = append(rows, m)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("top-level value is neither object nor array")
	}
}

func objectRows(list []any) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		rows = append(rows, m)
	}
	return rows, nil
}

// parseRecord converts one raw row into a TitleRecord. Returns false when the
// row carries no usable universe id under any accepted alias.
func (l *Loader) parseRecord(row map[string]any) (domain.TitleRecord, bool) {
	id, ok := universeID(row)
	if !ok {
		return domain.TitleRecord{}, false
	}

	rec := domain.TitleRecord{
		UniverseID: id,
		Name:       stringField(row, "name"),
		Developer:  stringField(row, "developer"),

		AvgCCU:            floatField(row, "avg_ccu"),
		Players:           floatField(row, "players"),
		Playing:           floatField(row, "playing"),
		CCU:               floatField(row, "ccu"),
		ConcurrentPlayers: floatField(row, "concurrentPlayers"),

		Visits:    floatOrZero(row, "visits"),
		Favorites: floatOrZero(row, "favorites"),
		Likes:     floatOrZero(row, "likes"),

		MonetizationCount: floatField(row, "monetization_count"),
		NumGamepasses:     floatField(row, "num_gamepasses"),
		NumDevproducts:    floatField(row, "num_devproducts"),
		GamePasses:        catalogField(row, "game_passes"),
		DevProducts:       catalogField(row, "dev_products"),
	}

	return rec, true
}

func universeID(row map[string]any) (int64, bool) {
	for _, key := range []string{"universeId", "universe_id", "id"} {
		if v, ok := row[key]; ok {
			switch id := v.(type) {
			case float64:
				return int64(id), true
			case string:
				// ParseInt rejects trailing garbage ("123abc") instead of
				// silently truncating it to a valid-looking id.
				if parsed, err := strconv.ParseInt(id, 10, 64); err == nil {
					return parsed, true
				}
			}
		}
	}
	return 0, false
}

func stringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// floatField returns nil when the key is absent or not numeric.
func floatField(row map[string]any, key string) *float64 {
	if v, ok := row[key].(float64); ok {
		return &v
	}
	return nil
}

func floatOrZero(row map[string]any, key string) float64 {
	if v := floatField(row, key); v != nil {
		return *v
	}
	return 0
}

// catalogField parses a catalog list. Entries that are not objects are
// skipped; entries without a parseable price keep a nil price so they still
// count toward the monetization count.
func catalogField(row map[string]any, key string) []domain.CatalogItem {
	list, ok := row[key].([]any)
	if !ok {
		return nil
	}

	items := make([]domain.CatalogItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := domain.CatalogItem{}
		if price, ok := m["price"].(float64); ok {
			item.Price = &price
		}
		items = append(items, item)
	}
	return items
}
