package planet

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

//go:generate go run github.com/dmarkham/enumer -json -type AssetStatus -transform lower

// AssetStatus is the server-side state of an asset, observed by polling
type AssetStatus int

const (
	Inactive AssetStatus = iota
	Activating
	Active
)

type assetLinks struct {
	Self     string `json:"_self"`
	Activate string `json:"activate"`
	Type     string `json:"type"`
}

// Asset is a named product of a feature
// Location is only populated once the status is active
type Asset struct {
	Status      AssetStatus `json:"status"`
	Location    string      `json:"location,omitempty"`
	Permissions []string    `json:"_permissions"`
	Links       assetLinks  `json:"_links"`
}

// Assets fetches the current assets of the feature, by name
// The result reflects the server state at the time of the call and is not cached
func (s *Session) Assets(ctx context.Context, feature *Feature) (map[string]Asset, error) {
	if feature.Links.Assets == "" {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("feature %s has no assets link", feature.ID)}
	}
	var assets map[string]Asset
	if err := s.getJSON(ctx, feature.Links.Assets, &assets); err != nil {
		return nil, fmt.Errorf("Assets[%s].%w", feature.ID, err)
	}
	return assets, nil
}

// Asset fetches the named asset of the feature
func (s *Session) Asset(ctx context.Context, feature *Feature, assetName string) (*Asset, error) {
	assets, err := s.Assets(ctx, feature)
	if err != nil {
		return nil, err
	}
	asset, ok := assets[assetName]
	if !ok {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("item %s has no asset %s", feature.ID, assetName)}
	}
	return &asset, nil
}

// Activate requests the activation of the named asset of each feature
// Features whose asset is already activating or active are skipped without
// issuing an activation request, so calling Activate twice is safe
// A 401 on the activation link surfaces as a PermissionError
func (s *Session) Activate(ctx context.Context, features []*Feature, assetName string) error {
	for _, feature := range features {
		if err := s.activate(ctx, feature, assetName); err != nil {
			return fmt.Errorf("Activate.%w", err)
		}
	}
	return nil
}

func (s *Session) activate(ctx context.Context, feature *Feature, assetName string) error {
	asset, err := s.Asset(ctx, feature, assetName)
	if err != nil {
		return err
	}
	switch asset.Status {
	case Activating, Active:
		return nil
	}
	if asset.Links.Activate == "" {
		return &MalformedResponseError{Reason: fmt.Sprintf("asset %s of item %s has no activate link", assetName, feature.ID)}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", asset.Links.Activate, nil)
	if err != nil {
		return fmt.Errorf("activate.NewRequest: %w", err)
	}
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 202: // activation accepted
		return nil
	case 204: // already active
		return nil
	case 401:
		return &PermissionError{SourceID: feature.ID, AssetName: assetName}
	}
	body, _ := io.ReadAll(resp.Body)
	return &HttpError{StatusCode: resp.StatusCode, Body: string(body)}
}
