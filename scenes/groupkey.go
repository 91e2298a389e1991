package scenes

import (
	"fmt"
	"strings"
)

// GroupKeyFunc derives the flatten/group key of a scene.
type GroupKeyFunc func(*Scene) (string, error)

// ByProduct groups scenes by product id.
func ByProduct(s *Scene) (string, error) { return s.Product, nil }

// ByID never groups: every scene keys to itself.
func ByID(s *Scene) (string, error) { return s.ID, nil }

// ByDay groups scenes by acquisition day.
func ByDay(s *Scene) (string, error) { return s.Acquired.Format("2006-01-02"), nil }

// GroupKeyPath compiles a dotted attribute path into a GroupKeyFunc. The
// optional "properties." prefix is accepted for compatibility with catalog
// search expressions. Date components are cumulative and zero-padded, so the
// lexicographic group order equals the chronological one:
//
//	"id", "product"
//	"date"       -> 2023-06-01T10:30:00 (RFC 3339)
//	"date.year"  -> 2023
//	"date.month" -> 2023-06
//	"date.day"   -> 2023-06-01
//	"date.hour"  -> 2023-06-01T10
func GroupKeyPath(path string) (GroupKeyFunc, error) {
	attr := strings.TrimPrefix(path, "properties.")
	switch attr {
	case "id":
		return ByID, nil
	case "product":
		return ByProduct, nil
	case "date":
		return dateKey(path, "2006-01-02T15:04:05"), nil
	case "date.year":
		return dateKey(path, "2006"), nil
	case "date.month":
		return dateKey(path, "2006-01"), nil
	case "date.day":
		return dateKey(path, "2006-01-02"), nil
	case "date.hour":
		return dateKey(path, "2006-01-02T15"), nil
	}
	return nil, fmt.Errorf("GroupKeyPath: unsupported path '%s'", path)
}

func dateKey(path, layout string) GroupKeyFunc {
	return func(s *Scene) (string, error) {
		if s.Acquired.IsZero() {
			return "", fmt.Errorf("scene %s has no acquisition date for '%s'", s.ID, path)
		}
		return s.Acquired.Format(layout), nil
	}
}
