package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-spatial/geom"
)

func TestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shape/north-america_united-states_iowa.geojson" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("geom") != "low" {
			t.Errorf("excepted geom=low, got '%s'", r.URL.Query().Get("geom"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("wrong auth header '%s'", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": 85688713,
			"geometry": map[string]interface{}{
				"type":        "Polygon",
				"coordinates": [][][]float64{{{-96.6, 40.3}, {-90.1, 40.3}, {-90.1, 43.5}, {-96.6, 43.5}, {-96.6, 40.3}}},
			},
			"properties": map[string]interface{}{
				"name":      "Iowa",
				"slug":      "north-america_united-states_iowa",
				"placetype": "region",
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	f, err := c.Shape(context.Background(), "north-america_united-states_iowa", "low")
	if err != nil {
		t.Fatal(err)
	}
	if f.Properties.Name != "Iowa" || f.Properties.Placetype != "region" {
		t.Errorf("wrong properties: %+v", f.Properties)
	}
	g, err := f.Geom()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(geom.Polygon); !ok {
		t.Errorf("excepted a polygon, got %T", g)
	}
}

func TestShapeGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"geometry": {"type": "Point", "coordinates": [-93.6, 41.6]}, "properties": {"name": "Des Moines", "slug": "des-moines"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	raw, err := c.ShapeGeometry(context.Background(), "des-moines")
	if err != nil {
		t.Fatal(err)
	}
	var g struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &g); err != nil || g.Type != "Point" {
		t.Errorf("wrong geometry payload: %s", raw)
	}
}

func TestShapeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte(`{"error": "unknown place"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.Shape(context.Background(), "atlantis", "low"); err == nil {
		t.Error("unknown place must fail")
	}
}
