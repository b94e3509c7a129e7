package common

// Feature property tags
const (
	TagAcquired        = "acquired"
	TagPublished       = "published"
	TagUpdated         = "updated"
	TagSatelliteID     = "satellite_id"
	TagInstrument      = "instrument"
	TagProvider        = "provider"
	TagStripID         = "strip_id"
	TagCloudCover      = "cloud_cover"
	TagClearPercent    = "clear_percent"
	TagSunElevation    = "sun_elevation"
	TagSunAzimuth      = "sun_azimuth"
	TagViewAngle       = "view_angle"
	TagGSD             = "gsd"
	TagPixelResolution = "pixel_resolution"
	TagQualityCategory = "quality_category"
	TagGroundControl   = "ground_control"
)
