package planet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/sjudeng/planet-api-workshop/common"
)

// SearchFilter selects the items of one type acquired over a geometry within
// a time range, with the named asset downloadable
// The time range is start-exclusive and end-inclusive
type SearchFilter struct {
	Geometry  geom.Geometry
	Start     time.Time
	End       time.Time
	ItemType  string
	AssetName string
}

type searchRequest struct {
	ItemTypes []string    `json:"item_types"`
	Filter    interface{} `json:"filter"`
}

type andFilter struct {
	Type   string        `json:"type"`
	Config []interface{} `json:"config"`
}

type permissionFilter struct {
	Type   string   `json:"type"`
	Config []string `json:"config"`
}

type geometryFilter struct {
	Type      string           `json:"type"`
	FieldName string           `json:"field_name"`
	Config    geojson.Geometry `json:"config"`
}

type dateRange struct {
	Start time.Time `json:"gt"`
	End   time.Time `json:"lte"`
}

type dateRangeFilter struct {
	Type      string    `json:"type"`
	FieldName string    `json:"field_name"`
	Config    dateRange `json:"config"`
}

func buildSearchRequest(f SearchFilter) searchRequest {
	return searchRequest{
		ItemTypes: []string{f.ItemType},
		Filter: andFilter{
			Type: "AndFilter",
			Config: []interface{}{
				permissionFilter{
					Type:   "PermissionFilter",
					Config: []string{"assets." + f.AssetName + ":download"},
				},
				geometryFilter{
					Type:      "GeometryFilter",
					FieldName: "geometry",
					Config:    geojson.Geometry{Geometry: f.Geometry},
				},
				dateRangeFilter{
					Type:      "DateRangeFilter",
					FieldName: "acquired",
					Config:    dateRange{Start: f.Start, End: f.End},
				},
			},
		},
	}
}

type featureLinks struct {
	Self   string `json:"_self"`
	Assets string `json:"assets"`
}

// Feature is one search result, immutable once fetched
type Feature struct {
	ID          string                 `json:"id"`
	Properties  map[string]interface{} `json:"properties"`
	Geometry    json.RawMessage        `json:"geometry"`
	Permissions []string               `json:"_permissions"`
	Links       featureLinks           `json:"_links"`
}

// Acquired returns the acquisition time of the feature
func (f *Feature) Acquired() (time.Time, error) {
	s, ok := f.Properties[common.TagAcquired].(string)
	if !ok {
		return time.Time{}, &MalformedResponseError{Reason: fmt.Sprintf("feature %s has no %s property", f.ID, common.TagAcquired)}
	}
	return dateparse.ParseAny(s)
}

// CloudCover returns the cloud cover fraction of the feature, or 0 if unknown
func (f *Feature) CloudCover() float64 {
	if v, ok := f.Properties[common.TagCloudCover].(float64); ok {
		return v
	}
	return 0
}

// SatelliteID returns the satellite that acquired the feature, or ""
func (f *Feature) SatelliteID() string {
	if v, ok := f.Properties[common.TagSatelliteID].(string); ok {
		return v
	}
	return ""
}

// Footprint returns the footprint of the feature as a geometry
func (f *Feature) Footprint() (geom.Geometry, error) {
	var g geojson.Geometry
	if err := json.Unmarshal(f.Geometry, &g); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("feature %s geometry: %v", f.ID, err)}
	}
	return g.Geometry, nil
}

// GetItem fetches a single item feature by its type and id
func (s *Session) GetItem(ctx context.Context, itemType, id string) (*Feature, error) {
	var f Feature
	if err := s.getJSON(ctx, fmt.Sprintf("%s/item-types/%s/items/%s", s.baseURL, itemType, id), &f); err != nil {
		return nil, fmt.Errorf("GetItem[%s].%w", id, err)
	}
	return &f, nil
}

type searchLinks struct {
	Next string `json:"_next"`
}

type searchResponse struct {
	Features []Feature   `json:"features"`
	Links    searchLinks `json:"_links"`
}

// Search returns a lazy iterator over the features matching the filter
// The first page is fetched on the first call to Next
func (s *Session) Search(filter SearchFilter) *FeatureIterator {
	return &FeatureIterator{session: s, filter: filter}
}

// FeatureIterator iterates over paginated search results, transparently
// following next-page links. Features are yielded in server order
type FeatureIterator struct {
	session *Session
	filter  SearchFilter

	started bool
	next    string
	page    []Feature
	i       int
	cur     *Feature
	err     error
}

// Next advances to the next feature, fetching pages as needed
// It returns false when the sequence is exhausted or on error (see Err)
func (it *FeatureIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.i >= len(it.page) {
		if it.started && it.next == "" {
			return false
		}
		if err := it.fetchPage(ctx); err != nil {
			it.err = err
			return false
		}
	}
	it.cur = &it.page[it.i]
	it.i++
	return true
}

// Feature returns the feature the iterator is currently on
func (it *FeatureIterator) Feature() *Feature { return it.cur }

// Err returns the first error encountered while paging
func (it *FeatureIterator) Err() error { return it.err }

func (it *FeatureIterator) fetchPage(ctx context.Context) error {
	var req *http.Request
	var err error
	if !it.started {
		body, merr := json.Marshal(buildSearchRequest(it.filter))
		if merr != nil {
			return fmt.Errorf("Search.Marshal: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, "POST", it.session.baseURL+"/quick-search", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("Search.NewRequest: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, "GET", it.next, nil)
		if err != nil {
			return fmt.Errorf("Search.NewRequest: %w", err)
		}
	}

	resp, err := it.session.Do(req)
	if err != nil {
		return fmt.Errorf("Search.%w", err)
	}
	defer resp.Body.Close()

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return &MalformedResponseError{Reason: err.Error()}
	}
	it.started = true
	it.page = page.Features
	it.i = 0
	it.next = page.Links.Next
	return nil
}
