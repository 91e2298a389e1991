package scenes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-spatial/geom"

	"github.com/tesseraeo/tessera-client-go/interface/raster"
)

func TestGeoContextValidate(t *testing.T) {
	bounds := [4]float64{0, 0, 1, 1}
	dims := [2]int{64, 64}
	shape := geom.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	cases := []struct {
		name string
		gc   GeoContext
		fail string
	}{
		{"resolution and bounds", GeoContext{SRS: "EPSG:4326", Resolution: 10, Bounds: &bounds}, ""},
		{"dimensions and location", GeoContext{SRS: "EPSG:4326", Dimensions: &dims, Location: "france"}, ""},
		{"shape", GeoContext{SRS: "EPSG:4326", Resolution: 10, Shape: shape}, ""},
		{"no srs", GeoContext{Resolution: 10, Bounds: &bounds}, "srs"},
		{"no sizing", GeoContext{SRS: "EPSG:4326", Bounds: &bounds}, "resolution or dimensions"},
		{"both sizings", GeoContext{SRS: "EPSG:4326", Resolution: 10, Dimensions: &dims, Bounds: &bounds}, "exclusive"},
		{"no area", GeoContext{SRS: "EPSG:4326", Resolution: 10}, "bounds, shape or location"},
	}
	for _, tc := range cases {
		err := tc.gc.Validate()
		if tc.fail == "" {
			if err != nil {
				t.Errorf("%s: %v", tc.name, err)
			}
		} else if err == nil || !strings.Contains(err.Error(), tc.fail) {
			t.Errorf("%s: got %v, excepted '%s'", tc.name, err, tc.fail)
		}
	}
}

func TestGeoContextGeom(t *testing.T) {
	shape := geom.Polygon{{{0, 0}, {2, 0}, {1, 2}, {0, 0}}}
	g, err := GeoContext{SRS: "EPSG:4326", Resolution: 10, Shape: shape}.Geom()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(geom.Polygon); !ok {
		t.Errorf("shape not passed through: %T", g)
	}

	bounds := [4]float64{8, 44, 9, 45}
	g, err = GeoContext{SRS: "EPSG:4326", Resolution: 10, Bounds: &bounds}.Geom()
	if err != nil {
		t.Fatal(err)
	}
	ring := g.(geom.Polygon)[0]
	if len(ring) != 5 || ring[0] != ring[4] {
		t.Fatalf("bounds ring not closed: %v", ring)
	}
	if ring[0] != [2]float64{8, 44} || ring[2] != [2]float64{9, 45} {
		t.Errorf("bounds ring corners: %v", ring)
	}

	if _, err := (GeoContext{SRS: "EPSG:4326", Location: "france"}).Geom(); err == nil {
		t.Errorf("excepted an error without shape nor bounds")
	}
}

func TestGeoContextParams(t *testing.T) {
	bounds := [4]float64{399960, 5190240, 402520, 5192800}
	shape := geom.Polygon{{{8, 44}, {9, 44}, {9, 45}, {8, 44}}}
	gc := GeoContext{
		SRS:         "EPSG:32632",
		Resolution:  20,
		Bounds:      &bounds,
		BoundsSRS:   "EPSG:32632",
		Shape:       shape,
		AlignPixels: true,
		Resampler:   raster.ResampleCubic,
	}
	p, err := gc.params()
	if err != nil {
		t.Fatal(err)
	}
	if p.SRS != gc.SRS || p.Resolution != gc.Resolution || p.Bounds != gc.Bounds ||
		p.BoundsSRS != gc.BoundsSRS || !p.AlignPixels || p.Resampler != raster.ResampleCubic {
		t.Errorf("params: %+v", p)
	}
	var decoded struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(p.Shape, &decoded); err != nil || decoded.Type != "Polygon" {
		t.Errorf("shape encoding: %s (%v)", p.Shape, err)
	}
}

func TestGeoContextFromTile(t *testing.T) {
	tile := raster.Tile{
		Key:        "128:16:10.0:32632:3:8",
		Bounds:     [4]float64{399960, 5190240, 402520, 5192800},
		CSCode:     "EPSG:32632",
		Resolution: 10,
		TileSize:   128,
		Pad:        16,
	}
	gc := GeoContextFromTile(tile)
	if gc.SRS != "EPSG:32632" || gc.BoundsSRS != "EPSG:32632" || gc.Resolution != 10 {
		t.Errorf("geocontext: %+v", gc)
	}
	if *gc.Bounds != tile.Bounds {
		t.Errorf("bounds: %v", *gc.Bounds)
	}
	tile.Bounds[0] = 0
	if gc.Bounds[0] != 399960 {
		t.Errorf("bounds aliased to the tile")
	}
	if err := gc.Validate(); err != nil {
		t.Errorf("tile context not usable: %v", err)
	}
}
