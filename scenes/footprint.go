package scenes

import (
	"fmt"
	"runtime"

	"github.com/go-spatial/geom"
	"github.com/paulsmith/gogeos/geos"

	"github.com/tesseraeo/tessera-client-go/service/geometry"
)

// FilterIntersecting keeps the scenes whose footprint intersects the AOI.
// Scenes without a footprint are dropped.
func (sc *SceneCollection) FilterIntersecting(aoi geom.Geometry) (*SceneCollection, error) {
	gaoi, err := geometry.GeomToGeos(aoi)
	if err != nil {
		return nil, fmt.Errorf("FilterIntersecting.%w", err)
	}
	paoi := gaoi.Prepare()
	kept := make([]*Scene, 0, len(sc.scenes))
	for _, s := range sc.scenes {
		if s.Footprint == nil {
			continue
		}
		g, err := geometry.GeomToGeos(s.Footprint)
		if err != nil {
			return nil, fmt.Errorf("FilterIntersecting[%s].%w", s.ID, err)
		}
		if intersects, err := paoi.Intersects(g); err == nil && intersects {
			kept = append(kept, s)
		}
	}
	runtime.KeepAlive(gaoi)
	return &SceneCollection{client: sc.client, scenes: kept}, nil
}

// Footprint returns the union of the scene footprints.
func (sc *SceneCollection) Footprint() (geom.Geometry, error) {
	geoms := make([]*geos.Geometry, 0, len(sc.scenes))
	for _, s := range sc.scenes {
		if s.Footprint == nil {
			continue
		}
		g, err := geometry.GeomToGeos(s.Footprint)
		if err != nil {
			return nil, fmt.Errorf("Footprint[%s].%w", s.ID, err)
		}
		geoms = append(geoms, g)
	}
	if len(geoms) == 0 {
		return nil, fmt.Errorf("Footprint: no scene footprint")
	}
	union, err := geometry.Union(geoms, geometry.TOLERANCE_GEOG)
	if err != nil {
		return nil, fmt.Errorf("Footprint.%w", err)
	}
	out, err := geometry.GeosToGeom(union)
	if err != nil {
		return nil, fmt.Errorf("Footprint.%w", err)
	}
	return out, nil
}

// Coverage returns the fraction of the geocontext footprint covered by the
// scene footprint. Both geometries must live in the same coordinate system
// (scene footprints are geographic).
func (s *Scene) Coverage(gc GeoContext) (float64, error) {
	if s.Footprint == nil {
		return 0, fmt.Errorf("Coverage: scene %s has no footprint", s.ID)
	}
	target, err := gc.Geom()
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	gTarget, err := geometry.GeomToGeos(target)
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	gScene, err := geometry.GeomToGeos(s.Footprint)
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	inter, err := gScene.Intersection(gTarget)
	if err != nil {
		return 0, fmt.Errorf("Coverage.Intersection: %w", err)
	}
	interArea, err := inter.Area()
	if err != nil {
		return 0, fmt.Errorf("Coverage.Area: %w", err)
	}
	targetArea, err := gTarget.Area()
	if err != nil {
		return 0, fmt.Errorf("Coverage.Area: %w", err)
	}
	if targetArea == 0 {
		return 0, nil
	}
	return interArea / targetArea, nil
}
