package common

import (
	"time"
)

const (
	ResultTypeItem  = "item"
	ResultTypeOrder = "order"
)

// ItemAttrs gathers the parameters needed to retrieve and deliver one item asset
type ItemAttrs struct {
	ItemType       string    `json:"item_type"`
	AssetName      string    `json:"asset_name"`
	Acquired       time.Time `json:"acquired,omitempty"`
	CloudCover     float64   `json:"cloud_cover,omitempty"`
	GeometryWKT    string    `json:"geometry_wkt,omitempty"`
	DeliveryPrefix string    `json:"delivery_prefix,omitempty"`
	Unarchive      bool      `json:"unarchive,omitempty"`
}

// Item is one scene whose named asset must be activated, downloaded and delivered
type Item struct {
	ID       int       `json:"id"`
	SourceID string    `json:"source_id"`
	OrderID  string    `json:"order_id"`
	Data     ItemAttrs `json:"data,omitempty"`
}

// OrderParams is the user-facing description of a retrieval order
type OrderParams struct {
	Name           string    `json:"name"`
	ItemType       string    `json:"item_type"`
	AssetName      string    `json:"asset_name"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	DeliveryPrefix string    `json:"delivery_prefix,omitempty"`
	Unarchive      bool      `json:"unarchive,omitempty"`
	Jobs           int       `json:"jobs,omitempty"`
	// Retries is the number of times an item is automatically queued again
	// after a temporary failure
	Retries int `json:"retries,omitempty"`
}

// Result of an item retrieval or of a whole order
// Items are addressed by ID, orders by OrderID
type Result struct {
	Type    string `json:"type"` // item (ResultTypeItem) or order (ResultTypeOrder)
	ID      int    `json:"id,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// DeliveryName returns the storage name of the item asset, expanding the
// {BRACKETS} of the delivery prefix with the item naming infos
func (i Item) DeliveryName(filename string) string {
	if i.Data.DeliveryPrefix == "" {
		return filename
	}
	prefix := i.Data.DeliveryPrefix
	if info, err := Info(i.SourceID); err == nil {
		prefix = FormatBrackets(prefix, info)
	}
	return prefix + "/" + filename
}
