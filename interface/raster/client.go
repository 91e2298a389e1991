package raster

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/service"
	"github.com/tesseraeo/tessera-client-go/service/log"
)

const (
	// DefaultURL is the production endpoint of the rasterization service.
	DefaultURL = "https://platform-services.tessera.earth/raster"
	// Timeout bounds every call to the service.
	Timeout = 300 * time.Second
)

// ShapeResolver resolves a place slug to its GeoJSON geometry. Satisfied by
// places.Client.
type ShapeResolver interface {
	ShapeGeometry(ctx context.Context, slug string) (json.RawMessage, error)
}

// Client calls the rasterization service.
type Client struct {
	url        string
	httpClient *http.Client
	places     ShapeResolver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http client (auth transport, proxy...).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPlaces installs the resolver used to turn Params.Location into a cutline.
func WithPlaces(r ShapeResolver) Option {
	return func(c *Client) {
		c.places = r
	}
}

// New returns a client of the rasterization service at serviceURL
// (DefaultURL if empty).
func New(serviceURL string, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimSuffix(serviceURL, "/"),
		httpClient: &http.Client{Timeout: Timeout},
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NDArray rasterizes the scenes of req into one composited pixel array, later
// keys painting over earlier ones. The service serializes band-major; for
// OrderImage the client moves the band axis last. Single-band responses may
// come back two-dimensional and are returned as-is.
func (c *Client) NDArray(ctx context.Context, req *NDArrayRequest) (*ndarray.Array, *Info, error) {
	r := *req
	if r.Order == "" {
		r.Order = OrderImage
	}
	if err := c.resolveLocation(ctx, &r.Params); err != nil {
		return nil, nil, fmt.Errorf("NDArray.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("featurearray: %d key(s), bands %v", len(r.Keys), r.Bands)
	body, err := c.post(ctx, "/featurearray", r.Keys, &r)
	if err != nil {
		return nil, nil, fmt.Errorf("NDArray.%w", err)
	}
	var resp ndarrayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("NDArray.Unmarshal: %w", err)
	}
	data := resp.Data
	if resp.Compression == "deflate" {
		if data, err = inflate(data); err != nil {
			return nil, nil, fmt.Errorf("NDArray.%w", err)
		}
	}
	dt, err := ndarray.ParseDType(resp.DataType)
	if err != nil {
		return nil, nil, fmt.Errorf("NDArray.%w", err)
	}
	arr, err := ndarray.FromBytes(dt, resp.Shape, data)
	if err != nil {
		return nil, nil, fmt.Errorf("NDArray.%w", err)
	}
	if r.Order == OrderImage && arr.NDim() == 3 {
		if arr, err = ndarray.Moveaxis(arr, 0, -1); err != nil {
			return nil, nil, fmt.Errorf("NDArray.%w", err)
		}
	}
	return arr, resp.Metadata, nil
}

// Raster renders the scenes of req into encoded image files (GeoTIFF unless
// req.Format says otherwise).
func (c *Client) Raster(ctx context.Context, req *RasterRequest) (*RasterResponse, error) {
	r := *req
	if r.Format == "" {
		r.Format = "GTiff"
	}
	if err := c.resolveLocation(ctx, &r.Params); err != nil {
		return nil, fmt.Errorf("Raster.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("raster: %d key(s), bands %v, format %s", len(r.Keys), r.Bands, r.Format)
	body, err := c.post(ctx, "/raster", r.Keys, &r)
	if err != nil {
		return nil, fmt.Errorf("Raster.%w", err)
	}
	var resp RasterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("Raster.Unmarshal: %w", err)
	}
	return &resp, nil
}

// BandsByKey fetches the catalog document of one scene id.
func (c *Client) BandsByKey(ctx context.Context, key string) (*SceneDocument, error) {
	body, err := c.get(ctx, "/bands/key/"+url.PathEscape(key), []string{key})
	if err != nil {
		return nil, fmt.Errorf("BandsByKey.%w", err)
	}
	var doc SceneDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("BandsByKey.Unmarshal: %w", err)
	}
	return &doc, nil
}

// resolveLocation replaces Location by its geometry (an explicit Shape wins).
func (c *Client) resolveLocation(ctx context.Context, p *Params) error {
	if p.Location == "" || p.Shape != nil {
		p.Location = ""
		return nil
	}
	if c.places == nil {
		return fmt.Errorf("resolveLocation: no places resolver configured for location '%s'", p.Location)
	}
	shape, err := c.places.ShapeGeometry(ctx, p.Location)
	if err != nil {
		return fmt.Errorf("resolveLocation.%w", err)
	}
	p.Shape = shape
	p.Location = ""
	return nil
}

func (c *Client) post(ctx context.Context, path string, keys []string, payload interface{}) ([]byte, error) {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("post.Encode: %w", err)
	}
	request := strings.TrimSpace(body.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, body)
	if err != nil {
		return nil, fmt.Errorf("post.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post.Do: %w", err)
	}
	defer resp.Body.Close()
	return readBody(resp, keys, request)
}

func (c *Client) get(ctx context.Context, path string, keys []string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return nil, fmt.Errorf("get.NewRequest: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get.Do: %w", err)
	}
	defer resp.Body.Close()
	return readBody(resp, keys, "")
}

// readBody reads the payload, mapping service errors onto the client error
// types. 429 and 5xx are flagged temporary so callers may retry.
func readBody(resp *http.Response, keys []string, request string) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("readBody: %w", err)
	}
	if resp.StatusCode == 200 {
		return raw, nil
	}
	msg := errorMessage(raw, resp.Status)
	switch {
	case resp.StatusCode == 404:
		return nil, &NotFoundError{Keys: keys}
	case resp.StatusCode == 400:
		return nil, &BadRequestError{Request: request, Message: msg}
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return nil, service.MakeTemporary(fmt.Errorf("readBody: %s", msg))
	}
	return nil, fmt.Errorf("readBody: %s", msg)
}

func errorMessage(raw []byte, status string) string {
	var em struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &em) == nil && em.Error != "" {
		return status + ": " + em.Error
	}
	if len(raw) > 0 {
		return status + ": " + strings.TrimSpace(string(raw))
	}
	return status
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}
