package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type geoCollection struct {
	Features []geoFeature `json:"features"`
}

type geoFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag     *float64 `json:"mag"`
		Time    *int64   `json:"time"`
		Place   string   `json:"place"`
		MagType string   `json:"magType"`
		Status  string   `json:"status"`
		Tsunami int      `json:"tsunami"`
		Sig     *float64 `json:"sig"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []*float64 `json:"coordinates"`
	} `json:"geometry"`
}

// ParseGeoJSON converts an upstream GeoJSON snapshot into a RawDataset.
// Coordinates are [longitude, latitude, depth]; missing entries stay null so
// the quality gate can count them.
func ParseGeoJSON(data []byte, extractedAt time.Time) (*RawDataset, error) {
	var collection geoCollection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}
	if len(collection.Features) == 0 {
		return nil, fmt.Errorf("no features found in geojson input")
	}

	records := make([]RawRecord, 0, len(collection.Features))
	for _, feat := range collection.Features {
		record := RawRecord{
			ID:           feat.ID,
			Magnitude:    feat.Properties.Mag,
			TimeMillis:   feat.Properties.Time,
			Place:        feat.Properties.Place,
			MagType:      feat.Properties.MagType,
			Status:       feat.Properties.Status,
			Tsunami:      feat.Properties.Tsunami,
			Significance: feat.Properties.Sig,
		}
		coords := feat.Geometry.Coordinates
		if len(coords) > 0 {
			record.Longitude = coords[0]
		}
		if len(coords) > 1 {
			record.Latitude = coords[1]
		}
		if len(coords) > 2 {
			record.Depth = coords[2]
		}
		records = append(records, record)
	}

	return &RawDataset{Records: records, ExtractedAt: extractedAt}, nil
}

// LoadGeoJSON reads a snapshot file written by the external extractor. The
// file's modification time stands in for the extraction timestamp.
func LoadGeoJSON(path string) (*RawDataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	return ParseGeoJSON(data, info.ModTime().UTC())
}
