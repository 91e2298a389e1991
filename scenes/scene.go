// Package scenes holds satellite scene metadata and drives pixel fetches
// against the Tessera rasterization service: Scene and SceneCollection, a
// GeoContext describing the target raster grid, and the Stack/Mosaic engine
// that fans fetches out, aligns the results into one multi-dimensional array
// and applies nodata/alpha masking.
package scenes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"

	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/service"
)

// Alpha is the name of the band carrying transparency. A zero alpha pixel
// means no valid data under it.
const Alpha = "alpha"

// Band describes one band of a scene.
type Band struct {
	Name        string
	DataType    ndarray.DType
	NoData      *float64
	Resolution  float64
	Description string
}

// Scene is one catalog entry: identity, acquisition properties and band
// catalog. Immutable once constructed.
type Scene struct {
	ID            string
	Product       string
	Acquired      time.Time
	CloudFraction float64
	Bands         map[string]Band
	Footprint     geom.Geometry
}

// NewScene builds a scene from its catalog document (see
// raster.Client.BandsByKey). Acquisition timestamps come in loose formats
// and are parsed permissively.
func NewScene(doc *raster.SceneDocument) (*Scene, error) {
	s := &Scene{
		ID:            doc.ID,
		Product:       doc.Product,
		CloudFraction: doc.CloudFraction,
		Bands:         make(map[string]Band, len(doc.Bands)),
	}
	if doc.Acquired != "" {
		acquired, err := dateparse.ParseAny(doc.Acquired)
		if err != nil {
			return nil, fmt.Errorf("NewScene[%s].ParseAny: %w", doc.ID, err)
		}
		s.Acquired = acquired
	}
	if doc.Geometry != nil {
		footprint, err := service.UnmarshalGeometry(doc.Geometry)
		if err != nil {
			return nil, fmt.Errorf("NewScene[%s].%w", doc.ID, err)
		}
		s.Footprint = footprint
	}
	for name, info := range doc.Bands {
		dt, err := ndarray.ParseDType(string(info.DataType))
		if err != nil {
			return nil, fmt.Errorf("NewScene[%s] band '%s': %w", doc.ID, name, err)
		}
		s.Bands[name] = Band{
			Name:        name,
			DataType:    dt,
			NoData:      info.NoData,
			Resolution:  info.Resolution,
			Description: info.Description,
		}
	}
	return s, nil
}

// Band returns the band catalog entry.
func (s *Scene) Band(name string) (Band, bool) {
	b, ok := s.Bands[name]
	return b, ok
}

// HasBand reports whether the scene carries the band.
func (s *Scene) HasBand(name string) bool {
	_, ok := s.Bands[name]
	return ok
}

// BandNames returns the band names in lexicographic order.
func (s *Scene) BandNames() []string {
	names := make([]string, 0, len(s.Bands))
	for name := range s.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommonDataType returns the single pixel data type the requested bands
// resolve to. A missing band is an error; bands carrying different types
// raise *InconsistentDataTypeError.
func (s *Scene) CommonDataType(bands []string) (ndarray.DType, error) {
	if len(bands) == 0 {
		return "", fmt.Errorf("CommonDataType: no bands requested")
	}
	var common ndarray.DType
	for _, name := range bands {
		b, ok := s.Bands[name]
		if !ok {
			return "", fmt.Errorf("CommonDataType: scene %s has no band '%s'", s.ID, name)
		}
		if common == "" {
			common = b.DataType
		} else if b.DataType != common {
			return "", &InconsistentDataTypeError{SceneID: s.ID, Band: name, Got: b.DataType, Expected: common}
		}
	}
	return common, nil
}

// NDArray fetches this scene's pixels for the geocontext, applying the same
// masking pipeline as a one-scene mosaic: nodata sentinels per band, then
// alpha transparency across every band.
func (s *Scene) NDArray(ctx context.Context, client RasterClient, bands []string, gc GeoContext, opts ...Option) (*ndarray.MaskedArray, *raster.Info, error) {
	m, info, err := NewSceneCollection(client, s).Mosaic(ctx, bands, gc, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("NDArray.%w", err)
	}
	return m, info, nil
}
