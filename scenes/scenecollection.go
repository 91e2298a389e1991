package scenes

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/service"
	"github.com/tesseraeo/tessera-client-go/service/log"
)

// DefaultWorkersPerCPU scales the stack fetch pool to the host.
const DefaultWorkersPerCPU = 5

// RasterClient is the slice of the rasterization service the engine needs.
// *raster.Client satisfies it; tests inject stubs.
type RasterClient interface {
	NDArray(ctx context.Context, req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error)
}

// SceneCollection is an ordered set of scenes sharing a raster client.
// Insertion order is significant: later scenes overlay earlier ones in a
// mosaic, and item order in a stack follows collection order. Collection
// operations return new collections; a collection is never mutated during a
// Stack or Mosaic call.
type SceneCollection struct {
	client RasterClient
	scenes []*Scene
}

// NewSceneCollection builds a collection over the given client.
func NewSceneCollection(client RasterClient, scenes ...*Scene) *SceneCollection {
	return &SceneCollection{client: client, scenes: append([]*Scene(nil), scenes...)}
}

// Len returns the number of scenes.
func (sc *SceneCollection) Len() int { return len(sc.scenes) }

// Get returns the scene at position i.
func (sc *SceneCollection) Get(i int) *Scene { return sc.scenes[i] }

// Scenes returns a copy of the scene slice.
func (sc *SceneCollection) Scenes() []*Scene { return append([]*Scene(nil), sc.scenes...) }

// IDs returns the scene ids in collection order.
func (sc *SceneCollection) IDs() []string {
	ids := make([]string, len(sc.scenes))
	for i, s := range sc.scenes {
		ids[i] = s.ID
	}
	return ids
}

// EachID calls f on every scene id in collection order.
func (sc *SceneCollection) EachID(f func(string)) {
	for _, s := range sc.scenes {
		f(s.ID)
	}
}

// Append returns a new collection with the scenes added at the end.
func (sc *SceneCollection) Append(scenes ...*Scene) *SceneCollection {
	return &SceneCollection{client: sc.client, scenes: NewCollection(sc.scenes...).Append(scenes...).Items()}
}

// Filter returns a new collection with the scenes keep accepts, in order.
func (sc *SceneCollection) Filter(keep func(*Scene) bool) *SceneCollection {
	return &SceneCollection{client: sc.client, scenes: NewCollection(sc.scenes...).Filter(keep).Items()}
}

// FilterBand keeps the scenes carrying the band.
func (sc *SceneCollection) FilterBand(band string) *SceneCollection {
	return sc.Filter(func(s *Scene) bool { return s.HasBand(band) })
}

// FilterDataType keeps the scenes whose requested bands (all bands when none
// are given) resolve to dt.
func (sc *SceneCollection) FilterDataType(dt ndarray.DType, bands ...string) *SceneCollection {
	return sc.Filter(func(s *Scene) bool {
		bb := bands
		if len(bb) == 0 {
			bb = s.BandNames()
		}
		got, err := s.CommonDataType(bb)
		return err == nil && got == dt
	})
}

// SortedByDate returns a new collection sorted by acquisition time, ties
// broken by id.
func (sc *SceneCollection) SortedByDate() *SceneCollection {
	sorted := NewCollection(sc.scenes...).Sorted(func(a, b *Scene) bool {
		if !a.Acquired.Equal(b.Acquired) {
			return a.Acquired.Before(b.Acquired)
		}
		return a.ID < b.ID
	})
	return &SceneCollection{client: sc.client, scenes: sorted.Items()}
}

// SceneGroup is one bucket of a GroupBy over scenes.
type SceneGroup struct {
	Key    string
	Scenes *SceneCollection
}

// GroupBy buckets the scenes by the joined keys. Groups come out sorted by
// key; within a group, collection order is preserved.
func (sc *SceneCollection) GroupBy(keys ...GroupKeyFunc) ([]SceneGroup, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("GroupBy: no key")
	}
	joined := func(s *Scene) (string, error) {
		parts := make([]string, len(keys))
		for i, key := range keys {
			k, err := key(s)
			if err != nil {
				return "", err
			}
			parts[i] = k
		}
		return strings.Join(parts, "/"), nil
	}
	groups, err := NewCollection(sc.scenes...).GroupBy(joined)
	if err != nil {
		return nil, err
	}
	out := make([]SceneGroup, len(groups))
	for i, g := range groups {
		out[i] = SceneGroup{Key: g.Key, Scenes: &SceneCollection{client: sc.client, scenes: g.Items.Items()}}
	}
	return out, nil
}

// Option configures Stack and Mosaic. FlattenBy, FlattenByPath and
// MaxWorkers only affect Stack.
type Option func(*options)

type options struct {
	flatten    []GroupKeyFunc
	maskNodata bool
	maskAlpha  *bool
	bandsAxis  *int
	maxWorkers *int
	err        error
}

func newOptions(opts []Option) *options {
	o := &options{maskNodata: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FlattenBy groups the scenes by the given keys before stacking: each group
// of size > 1 becomes one composited item, singletons stay per-scene items.
func FlattenBy(keys ...GroupKeyFunc) Option {
	return func(o *options) { o.flatten = append(o.flatten, keys...) }
}

// FlattenByPath is FlattenBy with dotted attribute paths compiled by
// GroupKeyPath (e.g. "properties.date.day").
func FlattenByPath(paths ...string) Option {
	return func(o *options) {
		for _, path := range paths {
			key, err := GroupKeyPath(path)
			if err != nil {
				o.err = service.MergeErrors(true, o.err, err)
				continue
			}
			o.flatten = append(o.flatten, key)
		}
	}
}

// WithoutNodataMask disables the per-band nodata sentinel masking.
func WithoutNodataMask() Option {
	return func(o *options) { o.maskNodata = false }
}

// WithoutAlphaMask disables alpha transparency masking.
func WithoutAlphaMask() Option {
	f := false
	return func(o *options) { o.maskAlpha = &f }
}

// WithAlphaMask forces alpha transparency masking; the call fails if a scene
// has no alpha band. Without this option alpha masking is on exactly when
// every scene carries one.
func WithAlphaMask() Option {
	t := true
	return func(o *options) { o.maskAlpha = &t }
}

// BandsAxis places the band axis of the result. Stack default is 1, the
// canonical (item, band, row, col) layout; Mosaic default is 0. Negative
// values count from the end.
func BandsAxis(axis int) Option {
	return func(o *options) { o.bandsAxis = &axis }
}

// MaxWorkers bounds the stack fetch pool. Default is DefaultWorkersPerCPU x
// NumCPU, never more than the item count; values below 2 force the
// sequential path.
func MaxWorkers(n int) Option {
	if n < 1 {
		n = 1
	}
	return func(o *options) { o.maxWorkers = &n }
}

// fetchPlan is the outcome of the preflight pass: the bands to fetch (alpha
// appended when masking needs it), the single data type they resolve to, and
// the masking steps to run.
type fetchPlan struct {
	bands      []string
	dtype      ndarray.DType
	maskNodata bool
	maskAlpha  bool
	dropAlpha  bool
}

// planFetch validates the request and resolves the fetch plan without any
// network call: emptiness, alpha ordering, alpha availability, and one data
// type across every band of every scene.
func (sc *SceneCollection) planFetch(bands []string, o *options) (*fetchPlan, error) {
	if o.err != nil {
		return nil, o.err
	}
	if sc.Len() == 0 {
		return nil, ErrEmptyCollection
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands requested")
	}
	for _, b := range bands[:len(bands)-1] {
		if b == Alpha {
			return nil, &AlphaOrderError{Bands: bands}
		}
	}
	explicitAlpha := bands[len(bands)-1] == Alpha

	alphaEverywhere := true
	for _, s := range sc.scenes {
		if !s.HasBand(Alpha) {
			alphaEverywhere = false
			break
		}
	}
	maskAlpha := alphaEverywhere
	if o.maskAlpha != nil {
		maskAlpha = *o.maskAlpha
	}
	if maskAlpha && !alphaEverywhere {
		return nil, fmt.Errorf("alpha masking requested but not every scene carries an '%s' band", Alpha)
	}

	plan := &fetchPlan{
		bands:      bands,
		maskNodata: o.maskNodata,
		maskAlpha:  maskAlpha,
	}
	if maskAlpha && !explicitAlpha {
		plan.bands = append(append([]string(nil), bands...), Alpha)
		plan.dropAlpha = true
	}

	for _, s := range sc.scenes {
		dt, err := s.CommonDataType(plan.bands)
		if err != nil {
			return nil, err
		}
		if plan.dtype == "" {
			plan.dtype = dt
		} else if dt != plan.dtype {
			return nil, &InconsistentDataTypeError{SceneID: s.ID, Got: dt, Expected: plan.dtype}
		}
	}
	return plan, nil
}

// nodataSentinels returns the distinct nodata values declared for band by
// any scene of the collection, in first-declared order.
func (sc *SceneCollection) nodataSentinels(band string) []float64 {
	seen := map[float64]struct{}{}
	var out []float64
	for _, s := range sc.scenes {
		b, ok := s.Bands[band]
		if !ok || b.NoData == nil {
			continue
		}
		if _, dup := seen[*b.NoData]; !dup {
			seen[*b.NoData] = struct{}{}
			out = append(out, *b.NoData)
		}
	}
	return out
}

// fetchMasked performs one composited fetch of the whole collection in the
// canonical band-major layout and runs the masking pipeline on the response:
// per-band nodata sentinels, then alpha == 0 across every band, then drops
// an internally fetched alpha plane. Masking never alters pixel values.
func (sc *SceneCollection) fetchMasked(ctx context.Context, plan *fetchPlan, gc GeoContext) (*ndarray.MaskedArray, *raster.Info, error) {
	params, err := gc.params()
	if err != nil {
		return nil, nil, fmt.Errorf("fetchMasked.%w", err)
	}
	params.Keys = sc.IDs()
	params.Bands = plan.bands
	params.DataType = plan.dtype
	log.Logger(ctx).Sugar().Debugf("fetch: %d scene(s), %d band(s), dtype %s", len(params.Keys), len(params.Bands), params.DataType)
	arr, info, err := sc.client.NDArray(ctx, &raster.NDArrayRequest{Params: params, Order: raster.OrderGDAL})
	if err != nil {
		return nil, nil, fmt.Errorf("fetchMasked.%w", err)
	}
	if arr.NDim() == 2 {
		if arr, err = arr.Reshape(1, arr.Shape[0], arr.Shape[1]); err != nil {
			return nil, nil, fmt.Errorf("fetchMasked.%w", err)
		}
	}
	if arr.NDim() != 3 || arr.Shape[0] != len(plan.bands) {
		return nil, nil, service.MakeFatal(fmt.Errorf("fetchMasked: got shape %v for %d band(s)", arr.Shape, len(plan.bands)))
	}

	var mask []bool
	if plan.maskNodata {
		for bi, band := range plan.bands {
			for _, sentinel := range sc.nodataSentinels(band) {
				if mask == nil {
					mask = make([]bool, arr.Len())
				}
				arr.MarkEqual(mask, bi, sentinel)
			}
		}
	}
	if plan.maskAlpha {
		if mask == nil {
			mask = make([]bool, arr.Len())
		}
		transparent := arr.PlaneEquals(arr.Shape[0]-1, 0)
		plane := arr.PlaneLen()
		for bi := 0; bi < arr.Shape[0]; bi++ {
			off := bi * plane
			for i, t := range transparent {
				if t {
					mask[off+i] = true
				}
			}
		}
	}
	if plan.dropAlpha {
		nbands := arr.Shape[0] - 1
		plane := arr.PlaneLen()
		arr, err = ndarray.FromBytes(arr.DType, []int{nbands, arr.Shape[1], arr.Shape[2]}, arr.Data[:nbands*plane*arr.DType.Size()])
		if err != nil {
			return nil, nil, fmt.Errorf("fetchMasked.%w", err)
		}
		if mask != nil {
			mask = mask[:nbands*plane]
		}
	}
	return &ndarray.MaskedArray{Array: arr, Mask: mask}, info, nil
}

// Mosaic composites every scene of the collection into one surface with a
// single service call; scenes later in the collection overlay earlier ones
// where they overlap. Masking runs client-side after the response (see
// fetchMasked); the band axis moves to the requested position only as the
// final step. The result is (band, row, col) by default.
func (sc *SceneCollection) Mosaic(ctx context.Context, bands []string, gc GeoContext, opts ...Option) (*ndarray.MaskedArray, *raster.Info, error) {
	o := newOptions(opts)
	axis := 0
	if o.bandsAxis != nil {
		axis = *o.bandsAxis
	}
	if axis <= -3 || axis >= 3 {
		return nil, nil, &UnsupportedAxisError{Op: "mosaic", Axis: axis}
	}
	if err := gc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("Mosaic.%w", err)
	}
	plan, err := sc.planFetch(bands, o)
	if err != nil {
		return nil, nil, fmt.Errorf("Mosaic.%w", err)
	}

	m, info, err := sc.fetchMasked(ctx, plan, gc)
	if err != nil {
		return nil, nil, fmt.Errorf("Mosaic.%w", err)
	}

	if n := normAxis(axis, 3); n != 0 {
		moved, err := ndarray.Moveaxis(m.Array, 0, n)
		if err != nil {
			return nil, nil, fmt.Errorf("Mosaic.%w", err)
		}
		if m.Mask != nil {
			if m.Mask, err = ndarray.MoveaxisBools(m.Mask, m.Array.Shape, 0, n); err != nil {
				return nil, nil, fmt.Errorf("Mosaic.%w", err)
			}
		}
		m.Array = moved
	}
	return m, info, nil
}

var sequentialNotice sync.Once

// Stack fetches one array per item and aligns them into a single
// (item, band, row, col) array. Items are the scenes themselves, or the
// flattened groups when FlattenBy is given: groups of size > 1 become
// composited sub-mosaics, singletons direct fetches, and group order becomes
// output order. Fetches run across a bounded worker pool; every item writes
// its own pre-assigned slot, so output order never depends on completion
// order. Any failing item aborts the whole call. The infos slice is indexed
// by item in output order.
func (sc *SceneCollection) Stack(ctx context.Context, bands []string, gc GeoContext, opts ...Option) (*ndarray.MaskedArray, []*raster.Info, error) {
	o := newOptions(opts)
	axis := 1
	if o.bandsAxis != nil {
		axis = *o.bandsAxis
	}
	if axis < -4 || axis >= 4 {
		return nil, nil, &UnsupportedAxisError{Op: "stack", Axis: axis}
	}
	n := normAxis(axis, 4)
	if n == 0 {
		// (band, item, ...) layouts are not produced by the engine.
		return nil, nil, &UnsupportedAxisError{Op: "stack", Axis: axis}
	}
	if err := gc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("Stack.%w", err)
	}
	plan, err := sc.planFetch(bands, o)
	if err != nil {
		return nil, nil, fmt.Errorf("Stack.%w", err)
	}
	items, err := sc.flattenItems(o)
	if err != nil {
		return nil, nil, fmt.Errorf("Stack.%w", err)
	}

	workers := DefaultWorkersPerCPU * runtime.NumCPU()
	if o.maxWorkers != nil {
		workers = *o.maxWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}

	var (
		mu        sync.Mutex
		out       *ndarray.Array
		mask      []bool
		itemElems int
		itemBytes int
	)
	infos := make([]*raster.Info, len(items))

	// fetch retrieves one item and writes it into its slot. The first
	// completed item sizes the output buffer; the mask buffer appears with
	// the first masked item, unmasked items contributing all-false. Slot
	// regions are disjoint, so writes after the sizing critical section are
	// lock-free.
	fetch := func(ctx context.Context, slot int, item *SceneCollection) error {
		m, info, err := item.fetchMasked(ctx, plan, gc)
		if err != nil {
			return err
		}
		mu.Lock()
		if out == nil {
			shape := append([]int{len(items)}, m.Array.Shape...)
			var aerr error
			if out, aerr = ndarray.New(m.Array.DType, shape...); aerr != nil {
				mu.Unlock()
				return service.MakeFatal(fmt.Errorf("alloc %v: %w", shape, aerr))
			}
			itemElems = m.Array.Len()
			itemBytes = len(m.Array.Data)
		} else if m.Array.DType != out.DType || len(m.Array.Data) != itemBytes || !shapeEqual(m.Array.Shape, out.Shape[1:]) {
			mu.Unlock()
			return service.MakeFatal(fmt.Errorf("item shape %v/%s does not match %v/%s", m.Array.Shape, m.Array.DType, out.Shape[1:], out.DType))
		}
		if m.Mask != nil && mask == nil {
			mask = make([]bool, out.Len())
		}
		maskDst := mask
		mu.Unlock()

		copy(out.Data[slot*itemBytes:], m.Array.Data)
		if m.Mask != nil {
			copy(maskDst[slot*itemElems:], m.Mask)
		}
		infos[slot] = info
		return nil
	}

	if workers <= 1 {
		sequentialNotice.Do(func() {
			log.Logger(ctx).Warn("parallel fetching disabled, stacking sequentially")
		})
		for i, item := range items {
			if err := fetch(ctx, i, item); err != nil {
				return nil, nil, fmt.Errorf("Stack: item %d: %w", i, err)
			}
		}
	} else {
		log.Logger(ctx).Sugar().Debugf("stack: %d item(s) across %d worker(s)", len(items), workers)
		type stackJob struct {
			slot int
			item *SceneCollection
		}
		g, gctx := errgroup.WithContext(ctx)
		jobs := make(chan stackJob)
		g.Go(func() error {
			defer close(jobs)
			for i := range items {
				select {
				case jobs <- stackJob{slot: i, item: items[i]}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for j := range jobs {
					if err := fetch(gctx, j.slot, j.item); err != nil {
						return fmt.Errorf("item %d: %w", j.slot, err)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, fmt.Errorf("Stack: %w", err)
		}
	}

	if out == nil {
		return nil, nil, fmt.Errorf("Stack: no item fetched")
	}
	if n != 1 {
		moved, err := ndarray.Moveaxis(out, 1, n)
		if err != nil {
			return nil, nil, fmt.Errorf("Stack.%w", err)
		}
		if mask != nil {
			if mask, err = ndarray.MoveaxisBools(mask, out.Shape, 1, n); err != nil {
				return nil, nil, fmt.Errorf("Stack.%w", err)
			}
		}
		out = moved
	}
	return &ndarray.MaskedArray{Array: out, Mask: mask}, infos, nil
}

// flattenItems turns the collection into the stack items: one per scene, or
// one per flatten group.
func (sc *SceneCollection) flattenItems(o *options) ([]*SceneCollection, error) {
	if len(o.flatten) == 0 {
		items := make([]*SceneCollection, len(sc.scenes))
		for i, s := range sc.scenes {
			items[i] = &SceneCollection{client: sc.client, scenes: []*Scene{s}}
		}
		return items, nil
	}
	groups, err := sc.GroupBy(o.flatten...)
	if err != nil {
		return nil, err
	}
	items := make([]*SceneCollection, len(groups))
	for i, g := range groups {
		items[i] = g.Scenes
	}
	return items, nil
}

func normAxis(axis, ndim int) int {
	if axis < 0 {
		return axis + ndim
	}
	return axis
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
