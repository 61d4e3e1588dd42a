package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"id": "us7000abcd",
			"properties": {
				"mag": 5.2,
				"time": 1715500800000,
				"place": "120 km E of Hachijo-jima, Japan",
				"magType": "mww",
				"status": "reviewed",
				"tsunami": 0,
				"sig": 416
			},
			"geometry": {"coordinates": [141.3, 33.1, 42.5]}
		},
		{
			"id": "us7000efgh",
			"properties": {
				"mag": null,
				"time": 1715504400000,
				"place": "offshore",
				"magType": "mb",
				"status": "automatic",
				"tsunami": 0
			},
			"geometry": {"coordinates": [141.5, 33.2]}
		}
	]
}`

func TestParseGeoJSON(t *testing.T) {
	extractedAt := time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC)

	ds, err := ParseGeoJSON([]byte(sampleGeoJSON), extractedAt)

	require.NoError(t, err)
	assert.Equal(t, extractedAt, ds.ExtractedAt)
	require.Len(t, ds.Records, 2)

	first := ds.Records[0]
	assert.Equal(t, "us7000abcd", first.ID)
	require.NotNil(t, first.Magnitude)
	assert.Equal(t, 5.2, *first.Magnitude)
	require.NotNil(t, first.TimeMillis)
	assert.Equal(t, int64(1715500800000), *first.TimeMillis)
	require.NotNil(t, first.Longitude)
	assert.Equal(t, 141.3, *first.Longitude)
	require.NotNil(t, first.Latitude)
	assert.Equal(t, 33.1, *first.Latitude)
	require.NotNil(t, first.Depth)
	assert.Equal(t, 42.5, *first.Depth)
	assert.Equal(t, "reviewed", first.Status)

	// Null magnitude and missing depth stay null for the gate to count.
	second := ds.Records[1]
	assert.Nil(t, second.Magnitude)
	assert.Nil(t, second.Depth)
	require.NotNil(t, second.Latitude)
	assert.Equal(t, 33.2, *second.Latitude)
}

func TestParseGeoJSONNoFeatures(t *testing.T) {
	_, err := ParseGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no features")
}

func TestParseGeoJSONMalformed(t *testing.T) {
	_, err := ParseGeoJSON([]byte(`{"features": "nope"`), time.Now())
	require.Error(t, err)
}

func TestLoadGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sampleGeoJSON), 0644))

	ds, err := LoadGeoJSON(path)

	require.NoError(t, err)
	assert.Len(t, ds.Records, 2)
	assert.False(t, ds.ExtractedAt.IsZero())
}

func TestLoadGeoJSONMissingFile(t *testing.T) {
	_, err := LoadGeoJSON(filepath.Join(t.TempDir(), "absent.geojson"))
	require.Error(t, err)
}

func TestRawRecordColumn(t *testing.T) {
	mag := 4.5
	rec := RawRecord{Magnitude: &mag}

	value, present, known := rec.Column("magnitude")
	assert.True(t, known)
	assert.True(t, present)
	assert.Equal(t, 4.5, value)

	_, present, known = rec.Column("latitude")
	assert.True(t, known)
	assert.False(t, present)

	_, _, known = rec.Column("station_count")
	assert.False(t, known)
}

func TestRawRecordTime(t *testing.T) {
	millis := int64(1715500800000)
	rec := RawRecord{TimeMillis: &millis}
	assert.Equal(t, time.UnixMilli(millis).UTC(), rec.Time())

	assert.True(t, RawRecord{}.Time().IsZero())
}
