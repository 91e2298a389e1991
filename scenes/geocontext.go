package scenes

import (
	"fmt"

	"github.com/go-spatial/geom"

	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/service"
)

// GeoContext carries the spatial parameters that make a rasterization
// reproducible: where (bounds, cutline shape or named location), on what
// grid (srs plus resolution or dimensions) and how to resample. The zero
// value is not usable; Validate reports what is missing.
type GeoContext struct {
	SRS         string
	Resolution  float64
	Bounds      *[4]float64
	BoundsSRS   string
	Dimensions  *[2]int
	Shape       geom.Geometry
	Location    string
	AlignPixels bool
	Resampler   string
}

// Validate reports whether the context fully specifies a raster grid.
func (gc GeoContext) Validate() error {
	if gc.SRS == "" {
		return fmt.Errorf("geocontext: srs required")
	}
	if gc.Resolution == 0 && gc.Dimensions == nil {
		return fmt.Errorf("geocontext: resolution or dimensions required")
	}
	if gc.Resolution != 0 && gc.Dimensions != nil {
		return fmt.Errorf("geocontext: resolution and dimensions are exclusive")
	}
	if gc.Bounds == nil && gc.Shape == nil && gc.Location == "" {
		return fmt.Errorf("geocontext: bounds, shape or location required")
	}
	return nil
}

// Geom returns the footprint of the context: the cutline shape when set,
// otherwise the bounds rectangle.
func (gc GeoContext) Geom() (geom.Geometry, error) {
	if gc.Shape != nil {
		return gc.Shape, nil
	}
	if gc.Bounds != nil {
		b := *gc.Bounds
		return geom.Polygon{{
			{b[0], b[1]}, {b[2], b[1]}, {b[2], b[3]}, {b[0], b[3]}, {b[0], b[1]},
		}}, nil
	}
	return nil, fmt.Errorf("Geom: neither shape nor bounds set")
}

// params renders the context into rasterization request parameters.
func (gc GeoContext) params() (raster.Params, error) {
	p := raster.Params{
		SRS:         gc.SRS,
		Resolution:  gc.Resolution,
		Bounds:      gc.Bounds,
		BoundsSRS:   gc.BoundsSRS,
		Dimensions:  gc.Dimensions,
		Location:    gc.Location,
		AlignPixels: gc.AlignPixels,
		Resampler:   gc.Resampler,
	}
	if gc.Shape != nil {
		raw, err := service.MarshalGeometry(gc.Shape)
		if err != nil {
			return raster.Params{}, fmt.Errorf("params.%w", err)
		}
		p.Shape = raw
	}
	return p, nil
}

// GeoContextFromTile converts a tile of the platform tiling into a fully
// specified geocontext: the tile bounds, its coordinate system and its
// resolution.
func GeoContextFromTile(t raster.Tile) GeoContext {
	bounds := t.Bounds
	return GeoContext{
		SRS:        t.CSCode,
		Resolution: t.Resolution,
		Bounds:     &bounds,
		BoundsSRS:  t.CSCode,
	}
}
