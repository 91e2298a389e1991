// Package raster implements the client of the Tessera rasterization service.
//
// The service cuts, warps and composites scenes server-side; this client
// issues the HTTP calls and decodes the payloads: pixel arrays
// (POST /featurearray), encoded image files (POST /raster), scene band
// metadata (GET /bands/key/{id}), tile grids (GET/POST /tiles/...) and
// quicklook previews (GET /quicklook/{id}).
package raster

import (
	"encoding/json"

	"github.com/tesseraeo/tessera-client-go/ndarray"
)

// Order selects the axis layout of an ndarray response.
type Order string

const (
	// OrderImage lays pixels out as (row, col, band).
	OrderImage Order = "image"
	// OrderGDAL lays pixels out as (band, row, col).
	OrderGDAL Order = "gdal"
)

// Resampling algorithms accepted by the service.
const (
	ResampleNear        = "near"
	ResampleBilinear    = "bilinear"
	ResampleCubic       = "cubic"
	ResampleCubicSpline = "cubicspline"
	ResampleLanczos     = "lanczos"
	ResampleAverage     = "average"
	ResampleMode        = "mode"
)

// Params carries the rasterization parameters common to the /raster and
// /featurearray operations. Scales entries are per-band [srcmin, srcmax,
// dstmin, dstmax] (or [min, max]) tables; a nil entry leaves the band
// unscaled. Shape is a GeoJSON geometry used as a cutline; Location is a
// named place resolved to a shape before the call.
type Params struct {
	Keys        []string        `json:"keys"`
	Bands       []string        `json:"bands"`
	Scales      [][]float64     `json:"scales,omitempty"`
	DataType    ndarray.DType   `json:"ot,omitempty"`
	SRS         string          `json:"srs,omitempty"`
	Resolution  float64         `json:"resolution,omitempty"`
	Shape       json.RawMessage `json:"shape,omitempty"`
	Location    string          `json:"location,omitempty"`
	Bounds      *[4]float64     `json:"outputBounds,omitempty"`
	BoundsSRS   string          `json:"outputBoundsSRS,omitempty"`
	Dimensions  *[2]int         `json:"outsize,omitempty"`
	AlignPixels bool            `json:"targetAlignedPixels,omitempty"`
	Resampler   string          `json:"resampleAlg,omitempty"`
}

// NDArrayRequest is the payload of POST /featurearray.
type NDArrayRequest struct {
	Params
	Order Order `json:"order,omitempty"`
}

// RasterRequest is the payload of POST /raster.
type RasterRequest struct {
	Params
	Format string `json:"of,omitempty"`
}

// Info is the raster metadata the service returns with every payload.
type Info struct {
	Driver       string        `json:"driver,omitempty"`
	DataType     ndarray.DType `json:"dtype,omitempty"`
	Bands        int           `json:"bands,omitempty"`
	Size         [2]int        `json:"size,omitempty"`
	GeoTransform [6]float64    `json:"geoTransform,omitempty"`
	Projection   string        `json:"projection,omitempty"`
	NoDataValues []*float64    `json:"noDataValues,omitempty"`
}

// ndarrayResponse is the body of a /featurearray response. Data is base64 on
// the wire (stdlib encoding for []byte) and band-major; an optional deflate
// pass may be applied by the server.
type ndarrayResponse struct {
	Shape       []int  `json:"shape"`
	DataType    string `json:"dtype"`
	Data        []byte `json:"data"`
	Compression string `json:"compression,omitempty"`
	Metadata    *Info  `json:"metadata,omitempty"`
}

// RasterResponse is the body of a /raster response: encoded files keyed by
// name (base64 on the wire), plus metadata.
type RasterResponse struct {
	Files    map[string][]byte `json:"files"`
	Metadata *Info             `json:"metadata,omitempty"`
}

// SceneDocument is the catalog entry served by GET /bands/key/{id}, enough to
// construct a scene without the search service.
type SceneDocument struct {
	ID            string              `json:"id"`
	Product       string              `json:"product"`
	Acquired      string              `json:"acquired"`
	CloudFraction float64             `json:"cloud_fraction,omitempty"`
	Geometry      json.RawMessage     `json:"geometry,omitempty"`
	Bands         map[string]BandInfo `json:"bands"`
}

// BandInfo describes one band of a scene.
type BandInfo struct {
	DataType    ndarray.DType `json:"dtype"`
	NoData      *float64      `json:"nodata,omitempty"`
	Resolution  float64       `json:"resolution,omitempty"`
	Description string        `json:"description,omitempty"`
}
