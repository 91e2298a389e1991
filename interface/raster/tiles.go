package raster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Tile is one cell of the platform tiling of the UTM zones. Bounds are
// expressed in the tile's own coordinate system (CSCode) and include the
// padding ring.
type Tile struct {
	Key        string          `json:"key"`
	Bounds     [4]float64      `json:"outputBounds"`
	CSCode     string          `json:"cs_code"`
	Resolution float64         `json:"resolution"`
	TileSize   int             `json:"tilesize"`
	Pad        int             `json:"pad"`
	Zone       int             `json:"zone"`
	TI         int             `json:"ti"`
	TJ         int             `json:"tj"`
	Geometry   json.RawMessage `json:"-"`
}

// tileFeature is the GeoJSON encoding of a tile: the lat/lon footprint as
// geometry, everything else as properties.
type tileFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties Tile            `json:"properties"`
}

type tileFeatureCollection struct {
	Features []tileFeature `json:"features"`
}

func (f tileFeature) tile() Tile {
	t := f.Properties
	t.Geometry = f.Geometry
	return t
}

// TilesFromShape covers shape (a GeoJSON geometry) with tiles of the given
// resolution, size and padding.
func (c *Client) TilesFromShape(ctx context.Context, resolution float64, tileSize, pad int, shape json.RawMessage) ([]Tile, error) {
	payload := struct {
		Resolution float64         `json:"resolution"`
		TileSize   int             `json:"tilesize"`
		Pad        int             `json:"pad"`
		Shape      json.RawMessage `json:"shape"`
	}{resolution, tileSize, pad, shape}
	body, err := c.post(ctx, "/tiles/shape", nil, &payload)
	if err != nil {
		return nil, fmt.Errorf("TilesFromShape.%w", err)
	}
	var fc tileFeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("TilesFromShape.Unmarshal: %w", err)
	}
	tiles := make([]Tile, len(fc.Features))
	for i, f := range fc.Features {
		tiles[i] = f.tile()
	}
	return tiles, nil
}

// TileFromLatLon returns the tile containing the point.
func (c *Client) TileFromLatLon(ctx context.Context, lat, lon, resolution float64, tileSize, pad int) (Tile, error) {
	path := fmt.Sprintf("/tiles/latlon/%g/%g?resolution=%g&tilesize=%d&pad=%d", lat, lon, resolution, tileSize, pad)
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return Tile{}, fmt.Errorf("TileFromLatLon.%w", err)
	}
	var f tileFeature
	if err := json.Unmarshal(body, &f); err != nil {
		return Tile{}, fmt.Errorf("TileFromLatLon.Unmarshal: %w", err)
	}
	return f.tile(), nil
}

// Tile fetches the tile of a known key.
func (c *Client) Tile(ctx context.Context, key string) (Tile, error) {
	body, err := c.get(ctx, "/tiles/"+url.PathEscape(key), []string{key})
	if err != nil {
		return Tile{}, fmt.Errorf("Tile.%w", err)
	}
	var f tileFeature
	if err := json.Unmarshal(body, &f); err != nil {
		return Tile{}, fmt.Errorf("Tile.Unmarshal: %w", err)
	}
	return f.tile(), nil
}
