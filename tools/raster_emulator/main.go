package main

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/tesseraeo/tessera-client-go/interface/places"
	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/service"
)

var simProduct = "tessera:sim:v1"

var simBands = map[string]raster.BandInfo{
	"red":     {DataType: ndarray.Byte, NoData: nd(0), Resolution: 10, Description: "visible red"},
	"green":   {DataType: ndarray.Byte, NoData: nd(0), Resolution: 10, Description: "visible green"},
	"blue":    {DataType: ndarray.Byte, NoData: nd(0), Resolution: 10, Description: "visible blue"},
	"nir":     {DataType: ndarray.Byte, NoData: nd(0), Resolution: 10, Description: "near infrared"},
	"alpha":   {DataType: ndarray.Byte, Resolution: 10, Description: "valid-data mask"},
	"thermal": {DataType: ndarray.UInt16, NoData: nd(0), Resolution: 30, Description: "brightness temperature"},
}

const (
	maxPixels = 16 << 20
	maxTiles  = 1024

	mPerDegLon = 111320.0
	mPerDegLat = 110540.0
)

func nd(v float64) *float64 {
	return &v
}

func main() {
	port := flag.String("port", "8585", "listen port")
	deflateResp := flag.Bool("deflate", false, "deflate-compress the /featurearray payloads")
	flag.Parse()

	em := &emulator{deflate: *deflateResp}

	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})

	log.Print("Serving the simulated product " + simProduct + " on :" + *port)
	log.Print("Point cmd/export at it with -raster-url http://localhost:" + *port + " -places-url http://localhost:" + *port + "/places")
	s := http.Server{
		Addr:    ":" + *port,
		Handler: handlers.LoggingHandler(os.Stdout, handlers.CORS(originsOk, headersOk, methodsOk)(em.newHandler())),
	}
	log.Fatal(s.ListenAndServe())
}

type emulator struct {
	deflate bool
}

func (em *emulator) newHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/featurearray", em.featureArrayHandler).Methods("POST")
	r.HandleFunc("/raster", em.rasterHandler).Methods("POST")
	r.HandleFunc("/bands/key/{key}", em.bandsHandler).Methods("GET")
	r.HandleFunc("/tiles/shape", em.tilesFromShapeHandler).Methods("POST")
	r.HandleFunc("/tiles/latlon/{lat}/{lon}", em.tileFromLatLonHandler).Methods("GET")
	r.HandleFunc("/tiles/{key}", em.tileHandler).Methods("GET")
	r.HandleFunc("/quicklook/{key}", em.quicklookHandler).Methods("GET")
	r.HandleFunc("/places/shape/{file}", em.placeShapeHandler).Methods("GET")
	return r
}

func writeError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ndarrayResponse mirrors the /featurearray payload of the production
// service: base64 pixels, band-major.
type ndarrayResponse struct {
	Shape       []int        `json:"shape"`
	DataType    string       `json:"dtype"`
	Data        []byte       `json:"data"`
	Compression string       `json:"compression,omitempty"`
	Metadata    *raster.Info `json:"metadata,omitempty"`
}

func (em *emulator) featureArrayHandler(w http.ResponseWriter, req *http.Request) {
	var r raster.NDArrayRequest
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		writeError(w, 400, "decode: %v", err)
		return
	}
	arr, info, status, err := compose(&r.Params)
	if err != nil {
		writeError(w, status, "%v", err)
		return
	}
	shape := arr.Shape
	if len(r.Bands) == 1 {
		shape = shape[1:]
	}
	resp := ndarrayResponse{Shape: shape, DataType: string(arr.DType), Data: arr.Data, Metadata: info}
	if em.deflate {
		if resp.Data, err = deflateBytes(arr.Data); err != nil {
			writeError(w, 500, "deflate: %v", err)
			return
		}
		resp.Compression = "deflate"
	}
	writeJSON(w, &resp)
}

func (em *emulator) rasterHandler(w http.ResponseWriter, req *http.Request) {
	var r raster.RasterRequest
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		writeError(w, 400, "decode: %v", err)
		return
	}
	if r.Format == "" {
		r.Format = "GTiff"
	}
	if r.Format != "PNG" {
		writeError(w, 400, "the emulator encodes PNG only (got '%s')", r.Format)
		return
	}
	arr, info, status, err := compose(&r.Params)
	if err != nil {
		writeError(w, status, "%v", err)
		return
	}
	data, err := encodePNG(arr, len(r.Bands))
	if err != nil {
		writeError(w, 400, "%v", err)
		return
	}
	info.Driver = "PNG"
	name := strings.ReplaceAll(r.Keys[0], ":", "_")
	if len(r.Keys) > 1 {
		name = fmt.Sprintf("%s_plus%d", name, len(r.Keys)-1)
	}
	writeJSON(w, &raster.RasterResponse{Files: map[string][]byte{name + ".png": data}, Metadata: info})
}

func (em *emulator) bandsHandler(w http.ResponseWriter, req *http.Request) {
	key := mux.Vars(req)["key"]
	if !strings.HasPrefix(key, simProduct+":") {
		writeError(w, 404, "scene not found: %s", key)
		return
	}
	doc, err := sceneDocument(key)
	if err != nil {
		writeError(w, 500, "%v", err)
		return
	}
	writeJSON(w, doc)
}

func (em *emulator) quicklookHandler(w http.ResponseWriter, req *http.Request) {
	p := raster.Params{
		Keys:       []string{mux.Vars(req)["key"]},
		Bands:      []string{"red", "green", "blue"},
		Dimensions: &[2]int{256, 256},
	}
	arr, _, status, err := compose(&p)
	if err != nil {
		writeError(w, status, "%v", err)
		return
	}
	data, err := encodePNG(arr, len(p.Bands))
	if err != nil {
		writeError(w, 500, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (em *emulator) placeShapeHandler(w http.ResponseWriter, req *http.Request) {
	file := mux.Vars(req)["file"]
	slug := strings.TrimSuffix(file, ".geojson")
	if slug == file || slug == "" {
		writeError(w, 404, "place not found: %s", file)
		return
	}
	h := hash64("place/" + slug)
	x0 := -170 + float64(h%320)
	y0 := -56 + float64((h>>8)%100)
	dx := 2 + float64((h>>16)%8)
	dy := 1 + float64((h>>20)%6)
	shape, err := service.MarshalGeometry(geom.Polygon{{{x0, y0}, {x0 + dx, y0}, {x0 + dx, y0 + dy}, {x0, y0 + dy}, {x0, y0}}})
	if err != nil {
		writeError(w, 500, "%v", err)
		return
	}
	writeJSON(w, &places.ShapeFeature{
		ID:       int64(h % 1000000),
		Geometry: shape,
		Properties: places.ShapeProperties{
			Name:      strings.ReplaceAll(slug, "-", " "),
			Slug:      slug,
			Placetype: "region",
			BBox:      []float64{x0, y0, x0 + dx, y0 + dy},
		},
	})
}

// compose paints the keys in request order onto a band-major grid initialized
// to the nodata sentinels. Every scene covers a deterministic sub-rectangle of
// the grid, so overlapping keys show which one painted last and the margins
// keep their sentinels.
func compose(p *raster.Params) (*ndarray.Array, *raster.Info, int, error) {
	if len(p.Keys) == 0 {
		return nil, nil, 400, fmt.Errorf("no keys")
	}
	if len(p.Bands) == 0 {
		return nil, nil, 400, fmt.Errorf("no bands")
	}
	for _, key := range p.Keys {
		if !strings.HasPrefix(key, simProduct+":") {
			return nil, nil, 404, fmt.Errorf("scene not found: %s", key)
		}
	}
	for _, band := range p.Bands {
		if _, ok := simBands[band]; !ok {
			return nil, nil, 400, fmt.Errorf("product %s has no band '%s'", simProduct, band)
		}
	}
	dt := p.DataType
	if dt == "" {
		dt = ndarray.Byte
	}
	if _, err := ndarray.ParseDType(string(dt)); err != nil {
		return nil, nil, 400, err
	}
	rows, cols, err := gridSize(p)
	if err != nil {
		return nil, nil, 400, err
	}
	arr, err := ndarray.New(dt, len(p.Bands), rows, cols)
	if err != nil {
		return nil, nil, 400, err
	}
	plane := rows * cols
	for b, name := range p.Bands {
		if ndv := simBands[name].NoData; ndv != nil && *ndv != 0 {
			for i := 0; i < plane; i++ {
				arr.SetFloat(b*plane+i, *ndv)
			}
		}
	}
	for _, key := range p.Keys {
		r0, r1, c0, c1 := coverage(hash64(key), rows, cols)
		for b, name := range p.Bands {
			v := bandValue(key, name, dt)
			for r := r0; r < r1; r++ {
				for c := c0; c < c1; c++ {
					arr.SetFloat(b*plane+r*cols+c, v)
				}
			}
		}
	}
	info := &raster.Info{
		Driver:     "MEM",
		DataType:   dt,
		Bands:      len(p.Bands),
		Size:       [2]int{cols, rows},
		Projection: p.SRS,
	}
	if p.Bounds != nil && p.Resolution > 0 {
		info.GeoTransform = [6]float64{p.Bounds[0], p.Resolution, 0, p.Bounds[3], 0, -p.Resolution}
	}
	for _, name := range p.Bands {
		info.NoDataValues = append(info.NoDataValues, simBands[name].NoData)
	}
	return arr, info, 0, nil
}

func gridSize(p *raster.Params) (rows, cols int, err error) {
	switch {
	case p.Dimensions != nil:
		cols, rows = p.Dimensions[0], p.Dimensions[1]
	case p.Bounds != nil && p.Resolution > 0:
		cols = int(math.Ceil((p.Bounds[2] - p.Bounds[0]) / p.Resolution))
		rows = int(math.Ceil((p.Bounds[3] - p.Bounds[1]) / p.Resolution))
	case p.Shape != nil && p.Resolution > 0:
		g, gerr := service.UnmarshalGeometry(p.Shape)
		if gerr != nil {
			return 0, 0, fmt.Errorf("shape: %w", gerr)
		}
		bb, gerr := geomBounds(g)
		if gerr != nil {
			return 0, 0, fmt.Errorf("shape: %w", gerr)
		}
		cols = int(math.Ceil((bb[2] - bb[0]) * mPerDegLon / p.Resolution))
		rows = int(math.Ceil((bb[3] - bb[1]) * mPerDegLat / p.Resolution))
	default:
		cols, rows = 256, 256
	}
	if cols <= 0 || rows <= 0 {
		return 0, 0, fmt.Errorf("empty output grid %dx%d", cols, rows)
	}
	if cols*rows > maxPixels {
		return 0, 0, fmt.Errorf("output grid %dx%d exceeds the emulator limit of %d pixels", cols, rows, maxPixels)
	}
	return rows, cols, nil
}

// coverage spans at least five eighths of the grid in each dimension, so any
// two scenes overlap whatever corner they anchor to.
func coverage(h uint64, rows, cols int) (r0, r1, c0, c1 int) {
	ch := rows * (5 + int((h>>8)%4)) / 8
	cw := cols * (5 + int((h>>12)%4)) / 8
	if ch < 1 {
		ch = 1
	}
	if cw < 1 {
		cw = 1
	}
	if h%2 == 1 {
		r0 = rows - ch
	}
	if (h>>1)%2 == 1 {
		c0 = cols - cw
	}
	return r0, r0 + ch, c0, c0 + cw
}

func bandValue(key, band string, dt ndarray.DType) float64 {
	if band == "alpha" {
		return 255
	}
	h := hash64(key + "/" + band)
	if dt == ndarray.UInt16 {
		return float64(1 + h%65535)
	}
	return float64(1 + h%255)
}

func sceneDocument(key string) (*raster.SceneDocument, error) {
	h := hash64(key)
	acquired, ok := embeddedDate(key)
	if !ok {
		acquired = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(h%365))
	}
	acquired = acquired.Add(time.Duration(h%24)*time.Hour + time.Duration((h>>8)%60)*time.Minute)
	x0 := 8 + float64(h%16)/4
	y0 := 44 + float64((h>>4)%16)/4
	footprint, err := service.MarshalGeometry(geom.Polygon{{{x0, y0}, {x0 + 1, y0}, {x0 + 1, y0 + 1}, {x0, y0 + 1}, {x0, y0}}})
	if err != nil {
		return nil, err
	}
	return &raster.SceneDocument{
		ID:            key,
		Product:       simProduct,
		Acquired:      acquired.Format(time.RFC3339),
		CloudFraction: float64(h%101) / 100,
		Geometry:      footprint,
		Bands:         simBands,
	}, nil
}

// embeddedDate picks the first run of eight digits that parses as a date, the
// convention of the simulated granule names (e.g. meta_20230601_142512).
func embeddedDate(key string) (time.Time, bool) {
	for i := 0; i+8 <= len(key); i++ {
		if t, err := time.Parse("20060102", key[i:i+8]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func deflateBytes(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw, err := flate.NewWriter(buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodePNG(arr *ndarray.Array, bands int) ([]byte, error) {
	rows, cols := arr.Shape[1], arr.Shape[2]
	plane := rows * cols
	var img image.Image
	switch {
	case bands == 1 && arr.DType == ndarray.Byte:
		g := image.NewGray(image.Rect(0, 0, cols, rows))
		for i := 0; i < plane; i++ {
			g.Pix[i] = uint8(arr.Float(i))
		}
		img = g
	case bands == 1 && arr.DType == ndarray.UInt16:
		g := image.NewGray16(image.Rect(0, 0, cols, rows))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g.SetGray16(c, r, color.Gray16{Y: uint16(arr.Float(r*cols + c))})
			}
		}
		img = g
	case (bands == 3 || bands == 4) && arr.DType == ndarray.Byte:
		im := image.NewNRGBA(image.Rect(0, 0, cols, rows))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				i := r*cols + c
				px := color.NRGBA{R: uint8(arr.Float(i)), G: uint8(arr.Float(plane + i)), B: uint8(arr.Float(2*plane + i)), A: 255}
				if bands == 4 {
					px.A = uint8(arr.Float(3*plane + i))
				}
				im.SetNRGBA(c, r, px)
			}
		}
		img = im
	default:
		return nil, fmt.Errorf("cannot encode %d band(s) of %s as PNG", bands, arr.DType)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	return buf.Bytes(), nil
}

// tileFeature is the GeoJSON encoding of a tile, the lat/lon footprint as
// geometry and everything else as properties.
type tileFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties raster.Tile     `json:"properties"`
}

type tileFeatureCollection struct {
	Type     string        `json:"type"`
	Features []tileFeature `json:"features"`
}

func (em *emulator) tilesFromShapeHandler(w http.ResponseWriter, req *http.Request) {
	var r struct {
		Resolution float64         `json:"resolution"`
		TileSize   int             `json:"tilesize"`
		Pad        int             `json:"pad"`
		Shape      json.RawMessage `json:"shape"`
	}
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		writeError(w, 400, "decode: %v", err)
		return
	}
	if r.Resolution <= 0 || r.TileSize <= 0 {
		writeError(w, 400, "resolution and tilesize must be positive")
		return
	}
	g, err := service.UnmarshalGeometry(r.Shape)
	if err != nil {
		writeError(w, 400, "shape: %v", err)
		return
	}
	bb, err := geomBounds(g)
	if err != nil {
		writeError(w, 400, "shape: %v", err)
		return
	}
	zone := lonZone((bb[0] + bb[2]) / 2)
	cm := float64(zone*6 - 183)
	span := r.Resolution * float64(r.TileSize)
	ti0 := int(math.Floor((bb[0] - cm) * mPerDegLon / span))
	ti1 := int(math.Floor((bb[2] - cm) * mPerDegLon / span))
	tj0 := int(math.Floor(bb[1] * mPerDegLat / span))
	tj1 := int(math.Floor(bb[3] * mPerDegLat / span))
	if n := (ti1 - ti0 + 1) * (tj1 - tj0 + 1); n > maxTiles {
		writeError(w, 400, "shape covers %d tiles, the emulator limit is %d", n, maxTiles)
		return
	}
	fc := tileFeatureCollection{Type: "FeatureCollection"}
	for tj := tj0; tj <= tj1; tj++ {
		for ti := ti0; ti <= ti1; ti++ {
			f, err := feature(tileAt(zone, r.Resolution, r.TileSize, r.Pad, ti, tj))
			if err != nil {
				writeError(w, 500, "%v", err)
				return
			}
			fc.Features = append(fc.Features, f)
		}
	}
	writeJSON(w, &fc)
}

func (em *emulator) tileFromLatLonHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	lat, err := strconv.ParseFloat(vars["lat"], 64)
	if err != nil {
		writeError(w, 400, "lat: %v", err)
		return
	}
	lon, err := strconv.ParseFloat(vars["lon"], 64)
	if err != nil {
		writeError(w, 400, "lon: %v", err)
		return
	}
	q := req.URL.Query()
	resolution, tileSize, pad := 10.0, 512, 0
	if s := q.Get("resolution"); s != "" {
		if resolution, err = strconv.ParseFloat(s, 64); err != nil || resolution <= 0 {
			writeError(w, 400, "malformed resolution '%s'", s)
			return
		}
	}
	if s := q.Get("tilesize"); s != "" {
		if tileSize, err = strconv.Atoi(s); err != nil || tileSize <= 0 {
			writeError(w, 400, "malformed tilesize '%s'", s)
			return
		}
	}
	if s := q.Get("pad"); s != "" {
		if pad, err = strconv.Atoi(s); err != nil || pad < 0 {
			writeError(w, 400, "malformed pad '%s'", s)
			return
		}
	}
	zone := lonZone(lon)
	cm := float64(zone*6 - 183)
	span := resolution * float64(tileSize)
	ti := int(math.Floor((lon - cm) * mPerDegLon / span))
	tj := int(math.Floor(lat * mPerDegLat / span))
	f, err := feature(tileAt(zone, resolution, tileSize, pad, ti, tj))
	if err != nil {
		writeError(w, 500, "%v", err)
		return
	}
	writeJSON(w, &f)
}

func (em *emulator) tileHandler(w http.ResponseWriter, req *http.Request) {
	t, err := parseTileKey(mux.Vars(req)["key"])
	if err != nil {
		writeError(w, 400, "%v", err)
		return
	}
	f, err := feature(t)
	if err != nil {
		writeError(w, 500, "%v", err)
		return
	}
	writeJSON(w, &f)
}

func parseTileKey(key string) (raster.Tile, error) {
	malformed := fmt.Errorf("malformed tile key '%s' (want tilesize:pad:resolution:zone:ti:tj)", key)
	parts := strings.Split(key, ":")
	if len(parts) != 6 {
		return raster.Tile{}, malformed
	}
	ints := make([]int, 6)
	var err error
	for i, p := range parts {
		if i == 2 {
			continue
		}
		if ints[i], err = strconv.Atoi(p); err != nil {
			return raster.Tile{}, malformed
		}
	}
	resolution, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return raster.Tile{}, malformed
	}
	if ints[0] <= 0 || ints[1] < 0 || resolution <= 0 || ints[3] < 1 || ints[3] > 60 {
		return raster.Tile{}, malformed
	}
	return tileAt(ints[3], resolution, ints[0], ints[1], ints[4], ints[5]), nil
}

func tileAt(zone int, resolution float64, tileSize, pad, ti, tj int) raster.Tile {
	span := resolution * float64(tileSize)
	p := float64(pad) * resolution
	return raster.Tile{
		Key:        fmt.Sprintf("%d:%d:%g:%d:%d:%d", tileSize, pad, resolution, zone, ti, tj),
		Bounds:     [4]float64{float64(ti)*span - p, float64(tj)*span - p, float64(ti+1)*span + p, float64(tj+1)*span + p},
		CSCode:     fmt.Sprintf("EPSG:326%02d", zone),
		Resolution: resolution,
		TileSize:   tileSize,
		Pad:        pad,
		Zone:       zone,
		TI:         ti,
		TJ:         tj,
	}
}

func feature(t raster.Tile) (tileFeature, error) {
	cm := float64(t.Zone*6 - 183)
	span := t.Resolution * float64(t.TileSize)
	x0, y0 := float64(t.TI)*span, float64(t.TJ)*span
	lon0, lat0 := cm+x0/mPerDegLon, y0/mPerDegLat
	lon1, lat1 := cm+(x0+span)/mPerDegLon, (y0+span)/mPerDegLat
	gj, err := service.MarshalGeometry(geom.Polygon{{{lon0, lat0}, {lon1, lat0}, {lon1, lat1}, {lon0, lat1}, {lon0, lat0}}})
	if err != nil {
		return tileFeature{}, err
	}
	return tileFeature{Type: "Feature", Geometry: gj, Properties: t}, nil
}

func lonZone(lon float64) int {
	z := int(math.Floor((lon+180)/6)) + 1
	if z < 1 {
		z = 1
	}
	if z > 60 {
		z = 60
	}
	return z
}

func geomBounds(g geom.Geometry) (*[4]float64, error) {
	var mp [][][][2]float64
	switch g := g.(type) {
	case geom.Polygoner:
		mp = [][][][2]float64{g.LinearRings()}
	case geom.MultiPolygoner:
		mp = g.Polygons()
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, poly := range mp {
		for _, ring := range poly {
			for _, pt := range ring {
				b[0] = math.Min(b[0], pt[0])
				b[1] = math.Min(b[1], pt[1])
				b[2] = math.Max(b[2], pt[0])
				b[3] = math.Max(b[3], pt[1])
			}
		}
	}
	if b[0] > b[2] {
		return nil, fmt.Errorf("empty geometry")
	}
	return &b, nil
}
