// Package export writes mappings and statistics as JSON, CSV or Parquet.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/pii-anonymizer/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name; the empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// DetectFormat picks a format from a file extension, defaulting to JSON.
func DetectFormat(filename string) Format {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return FormatCSV
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	default:
		return FormatJSON
	}
}

// ContentType is the HTTP media type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// Filename is the attachment name for an export of the given kind.
func (f Format) Filename(kind string) string {
	return kind + "_export." + string(f)
}

// parquetMapping is the Parquet row layout. Times are UTC Unix nanoseconds.
type parquetMapping struct {
	ID          int64  `parquet:"id"`
	Fingerprint string `parquet:"fingerprint"`
	Substitute  string `parquet:"substitute"`
	EntityType  string `parquet:"entity_type"`
	FirstSeen   int64  `parquet:"first_seen_ns"`
	LastUsed    int64  `parquet:"last_used_ns"`
	UsageCount  int64  `parquet:"usage_count"`
}

var mappingColumns = []string{"id", "fingerprint", "substitute", "entity_type", "first_seen", "last_used", "usage_count"}

// MappingsDocument is the JSON envelope of a mapping export.
type MappingsDocument struct {
	Mappings   []store.Mapping `json:"mappings"`
	Total      int             `json:"total"`
	ExportedAt time.Time       `json:"exported_at"`
}

// WriteMappings writes mappings to w in the given format.
func WriteMappings(w io.Writer, format Format, mappings []store.Mapping) error {
	if mappings == nil {
		mappings = []store.Mapping{}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(MappingsDocument{
			Mappings:   mappings,
			Total:      len(mappings),
			ExportedAt: time.Now().UTC(),
		})

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(mappingColumns); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		for _, m := range mappings {
			record := []string{
				strconv.FormatInt(m.ID, 10),
				m.Fingerprint,
				m.Substitute,
				m.EntityType,
				m.FirstSeen.UTC().Format(time.RFC3339Nano),
				m.LastUsed.UTC().Format(time.RFC3339Nano),
				strconv.FormatInt(m.UsageCount, 10),
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatParquet:
		rows := make([]parquetMapping, len(mappings))
		for i, m := range mappings {
			rows[i] = parquetMapping{
				ID:          m.ID,
				Fingerprint: m.Fingerprint,
				Substitute:  m.Substitute,
				EntityType:  m.EntityType,
				FirstSeen:   m.FirstSeen.UnixNano(),
				LastUsed:    m.LastUsed.UnixNano(),
				UsageCount:  m.UsageCount,
			}
		}
		pw := parquet.NewGenericWriter[parquetMapping](w)
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("failed to write Parquet rows: %w", err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("failed to close Parquet writer: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// WriteStats writes aggregate statistics. CSV output ends with a TOTAL row;
// Parquet is not offered for statistics.
func WriteStats(w io.Writer, format Format, stats *store.Stats) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)

	case FormatCSV:
		cw := csv.NewWriter(w)
		rows := [][]string{{"entity_type", "unique_values", "total_substitutions"}}
		for _, t := range stats.EntityTypes {
			rows = append(rows, []string{
				t.EntityType,
				strconv.FormatInt(t.MappingCount, 10),
				strconv.FormatInt(t.TotalUsage, 10),
			})
		}
		rows = append(rows, []string{
			"TOTAL",
			strconv.FormatInt(stats.TotalMappings, 10),
			strconv.FormatInt(stats.TotalUsage, 10),
		})
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("failed to write stats CSV: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported stats format: %s", format)
	}
}
