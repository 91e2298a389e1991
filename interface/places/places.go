// Package places implements the client of the Tessera places service, a
// directory of named shapes (countries, regions, watersheds) addressable by
// slug and usable as rasterization cutlines.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-spatial/geom"

	"github.com/tesseraeo/tessera-client-go/service"
)

// DefaultURL is the production endpoint of the places service.
const DefaultURL = "https://platform-services.tessera.earth/places"

// ShapeFeature is a place: a GeoJSON feature whose properties identify it.
type ShapeFeature struct {
	ID         int64           `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties ShapeProperties `json:"properties"`
}

// ShapeProperties names and classifies a place.
type ShapeProperties struct {
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Placetype string    `json:"placetype,omitempty"`
	BBox      []float64 `json:"bbox,omitempty"`
}

// Geom decodes the feature geometry.
func (f *ShapeFeature) Geom() (geom.Geometry, error) {
	g, err := service.UnmarshalGeometry(f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("Geom.%w", err)
	}
	return g, nil
}

// Client calls the places service.
type Client struct {
	url   string
	token string
}

// New returns a client of the places service at serviceURL (DefaultURL if
// empty), authenticating with token when non-empty.
func New(serviceURL, token string) *Client {
	c := &Client{url: strings.TrimSuffix(serviceURL, "/"), token: token}
	if c.url == "" {
		c.url = DefaultURL
	}
	return c
}

// Shape fetches a place by slug. geomRes selects the resolution of the
// returned geometry ("low", "medium", "high"); empty means the service
// default.
func (c *Client) Shape(ctx context.Context, slug, geomRes string) (*ShapeFeature, error) {
	u := c.url + "/shape/" + url.PathEscape(slug) + ".geojson"
	if geomRes != "" {
		u += "?geom=" + url.QueryEscape(geomRes)
	}
	body, err := service.HTTPGetWithAuth(ctx, u, "", "", c.token)
	if err != nil {
		return nil, fmt.Errorf("Shape.%w", err)
	}
	var f ShapeFeature
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("Shape.Unmarshal: %w", err)
	}
	return &f, nil
}

// ShapeGeometry returns the low-resolution geometry of a place, the form the
// rasterization client consumes as a cutline.
func (c *Client) ShapeGeometry(ctx context.Context, slug string) (json.RawMessage, error) {
	f, err := c.Shape(ctx, slug, "low")
	if err != nil {
		return nil, fmt.Errorf("ShapeGeometry.%w", err)
	}
	return f.Geometry, nil
}
