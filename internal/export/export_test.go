package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-anonymizer/internal/store"
)

func sampleMappings() []store.Mapping {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []store.Mapping{
		{ID: 1, Fingerprint: "aa11", EntityType: "PERSON", Substitute: "Maria Lopez", FirstSeen: seen, LastUsed: seen.Add(time.Hour), UsageCount: 4},
		{ID: 2, Fingerprint: "bb22", EntityType: "EMAIL_ADDRESS", Substitute: "x, \"y\"@example.com", FirstSeen: seen, LastUsed: seen, UsageCount: 1},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, " parquet ": FormatParquet} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFormat("out/mappings.csv"))
	assert.Equal(t, FormatParquet, DetectFormat("mappings.parquet"))
	assert.Equal(t, FormatJSON, DetectFormat("mappings.json"))
	assert.Equal(t, FormatJSON, DetectFormat("mappings"))
	assert.Equal(t, "mappings_export.csv", FormatCSV.Filename("mappings"))
}

func TestWriteMappings(t *testing.T) {
	mappings := sampleMappings()

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMappings(&buf, FormatJSON, mappings))

		var doc MappingsDocument
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, 2, doc.Total)
		assert.Equal(t, mappings, doc.Mappings)
	})

	t.Run("EmptyJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMappings(&buf, FormatJSON, nil))
		assert.Contains(t, buf.String(), `"mappings": []`)
	})

	t.Run("CSV", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMappings(&buf, FormatCSV, mappings))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, mappingColumns, records[0])
		assert.Equal(t, []string{"1", "aa11", "Maria Lopez", "PERSON", "2026-03-01T12:00:00Z", "2026-03-01T13:00:00Z", "4"}, records[1])
		assert.Equal(t, "x, \"y\"@example.com", records[2][2])
	})

	t.Run("Parquet", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMappings(&buf, FormatParquet, mappings))

		reader := parquet.NewReader(bytes.NewReader(buf.Bytes()))
		defer reader.Close()

		var got []parquetMapping
		for {
			var m parquetMapping
			err := reader.Read(&m)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, m)
		}
		require.Len(t, got, 2)
		assert.Equal(t, "Maria Lopez", got[0].Substitute)
		assert.Equal(t, int64(4), got[0].UsageCount)
		assert.Equal(t, "EMAIL_ADDRESS", got[1].EntityType)
		assert.Equal(t, mappings[0].LastUsed.UnixNano(), got[0].LastUsed)
	})

	t.Run("Unsupported", func(t *testing.T) {
		assert.Error(t, WriteMappings(io.Discard, Format("xml"), mappings))
	})
}

func TestWriteStats(t *testing.T) {
	stats := &store.Stats{
		TotalMappings: 3,
		TotalUsage:    10,
		EntityTypes: []store.TypeStats{
			{EntityType: "EMAIL_ADDRESS", MappingCount: 1, TotalUsage: 2},
			{EntityType: "PERSON", MappingCount: 2, TotalUsage: 8},
		},
	}

	t.Run("CSV", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteStats(&buf, FormatCSV, stats))
		assert.Equal(t, "entity_type,unique_values,total_substitutions\n"+
			"EMAIL_ADDRESS,1,2\n"+
			"PERSON,2,8\n"+
			"TOTAL,3,10\n", buf.String())
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteStats(&buf, FormatJSON, stats))
		assert.Contains(t, buf.String(), `"total_substitutions": 10`)
		assert.Contains(t, buf.String(), `"by_entity_type"`)
	})

	t.Run("ParquetRejected", func(t *testing.T) {
		assert.Error(t, WriteStats(io.Discard, FormatParquet, stats))
	})
}
