// Package domain models wind-hazard contour data and the administrative
// boundaries it is partitioned by.
//
// # Data Source
//
// Raw wind observations are fetched per date from the wind server as CSV rows
// of longitude, latitude and wind speed. An external contour command grids the
// observations and emits iso-speed bands as a GeoJSON FeatureCollection, one
// Polygon per band path, with the band level stored in the "wind" property.
//
// # Coordinate Reference System
//
// Every layer, boundary and artifact uses OGC CRS84 (WGS-84 longitude/latitude
// order), declared on artifacts as:
//
//	"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}}
//
// # Boundaries
//
// Boundaries are US states from a bundled GeoJSON catalog. Each feature carries
// a short abbreviation ("TX") and a full name ("Texas"). Abbreviations are
// unique ignoring case; region filters compare them case-insensitively but
// artifact paths use the abbreviation exactly as stored.
//
// # Partitioning
//
// A ConflictFeature is the intersection of one boundary with one contour band.
// It keeps the band's properties verbatim and nothing about the boundary:
// boundary identity is carried by the artifact path
// ("state/%state%_wind_speed_plot.json"). Boundaries with no overlapping band
// produce no artifact at all.
package domain
