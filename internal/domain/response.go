package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Response is the user-facing answer to a question.
type Response struct {
	Message           string         `json:"message"`
	FeatureCollection *ResultPayload `json:"feature_collection"`
	Metadata          map[string]any `json:"metadata"`
}

// ResultPayload is a GeoJSON FeatureCollection of the matched features with
// the buffer geometry in the foreign member "buffer".
type ResultPayload struct {
	Type     string             `json:"type"`
	Features []*geojson.Feature `json:"features"`
	Buffer   *geojson.Geometry  `json:"buffer"`
}

// NewResultPayload builds the payload for a result.
func NewResultPayload(features []Feature, buffer orb.MultiPolygon) *ResultPayload {
	p := &ResultPayload{
		Type:     "FeatureCollection",
		Features: make([]*geojson.Feature, 0, len(features)),
	}
	for i := range features {
		p.Features = append(p.Features, features[i].GeoJSON())
	}
	if len(buffer) > 0 {
		p.Buffer = geojson.NewGeometry(buffer)
	}
	return p
}

// IsError reports whether the response describes a failure.
func (r *Response) IsError() bool {
	_, ok := r.Metadata["error_kind"]
	return ok
}
