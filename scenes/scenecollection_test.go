package scenes_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/scenes"
	"github.com/tesseraeo/tessera-client-go/service"
)

var _ = Describe("Mosaic", func() {
	gc := scenes.GeoContext{
		SRS:        "EPSG:32632",
		Bounds:     &[4]float64{399960, 5190240, 400020, 5190280},
		Dimensions: &[2]int{gridCols, gridRows},
	}
	plane := gridRows * gridCols
	var sc *scenes.SceneCollection

	BeforeEach(func() {
		rasterService.Reset()
		sc = scenes.NewSceneCollection(&rasterService,
			testScene("area:s1", 1, byteBands("red", "nir")),
			testScene("area:s2", 2, byteBands("red", "nir")),
			testScene("area:s3", 3, byteBands("red", "nir")),
		)
	})

	It("should composite the whole collection in one call", func() {
		m, info, err := sc.Mosaic(ctx, []string{"red", "nir"}, gc)
		Expect(err).NotTo(HaveOccurred())
		Expect(rasterService.Calls()).To(Equal(1))
		req := rasterService.Requests()[0]
		Expect(req.Keys).To(Equal([]string{"area:s1", "area:s2", "area:s3"}))
		Expect(req.Bands).To(Equal([]string{"red", "nir"}))
		Expect(req.Order).To(Equal(raster.OrderGDAL))
		Expect(req.DataType).To(Equal(ndarray.Byte))
		Expect(*req.Dimensions).To(Equal([2]int{gridCols, gridRows}))
		Expect(m.Shape).To(Equal([]int{2, gridRows, gridCols}))
		Expect(m.Mask).To(BeNil())
		// the last key of the composite shows through
		Expect(m.Float(0)).To(Equal(3.0))
		Expect(m.Float(plane)).To(Equal(13.0))
		Expect(info.Bands).To(Equal(2))
	})

	Context("before any network call", func() {
		It("should reject an empty collection", func() {
			empty := scenes.NewSceneCollection(&rasterService)
			_, _, err := empty.Mosaic(ctx, []string{"red"}, gc)
			Expect(errors.Is(err, scenes.ErrEmptyCollection)).To(BeTrue())
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject an empty band list", func() {
			_, _, err := sc.Mosaic(ctx, nil, gc)
			Expect(err).To(MatchError(ContainSubstring("no bands")))
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject alpha anywhere but last", func() {
			_, _, err := sc.Mosaic(ctx, []string{"alpha", "red"}, gc)
			var aerr *scenes.AlphaOrderError
			Expect(errors.As(err, &aerr)).To(BeTrue())
			Expect(aerr.Bands).To(Equal([]string{"alpha", "red"}))
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject scenes resolving to different data types", func() {
			odd := testScene("area:s3", 3, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.UInt16},
				"nir": {Name: "nir", DataType: ndarray.UInt16},
			})
			mixed := scenes.NewSceneCollection(&rasterService, sc.Get(0), sc.Get(1), odd)
			_, _, err := mixed.Mosaic(ctx, []string{"red", "nir"}, gc)
			var dtErr *scenes.InconsistentDataTypeError
			Expect(errors.As(err, &dtErr)).To(BeTrue())
			Expect(dtErr.SceneID).To(Equal("area:s3"))
			Expect(dtErr.Got).To(Equal(ndarray.UInt16))
			Expect(dtErr.Expected).To(Equal(ndarray.Byte))
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject bands of mixed data types within one scene", func() {
			odd := testScene("area:s1", 1, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte},
				"nir": {Name: "nir", DataType: ndarray.Float32},
			})
			_, _, err := scenes.NewSceneCollection(&rasterService, odd).Mosaic(ctx, []string{"red", "nir"}, gc)
			var dtErr *scenes.InconsistentDataTypeError
			Expect(errors.As(err, &dtErr)).To(BeTrue())
			Expect(dtErr.Band).To(Equal("nir"))
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject a bands axis out of range", func() {
			for _, axis := range []int{3, -3, 7} {
				_, _, err := sc.Mosaic(ctx, []string{"red"}, gc, scenes.BandsAxis(axis))
				var uerr *scenes.UnsupportedAxisError
				Expect(errors.As(err, &uerr)).To(BeTrue())
				Expect(uerr.Op).To(Equal("mosaic"))
				Expect(uerr.Axis).To(Equal(axis))
			}
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should reject an under-specified geocontext", func() {
			_, _, err := sc.Mosaic(ctx, []string{"red"}, scenes.GeoContext{SRS: "EPSG:4326"})
			Expect(err).To(MatchError(ContainSubstring("resolution or dimensions")))
			Expect(rasterService.Calls()).To(Equal(0))
		})
	})

	Context("masking", func() {
		It("should mask every nodata sentinel declared for a band", func() {
			s1 := testScene("area:s1", 1, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte, NoData: nd(0)},
			})
			s2 := testScene("area:s2", 2, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte, NoData: nd(255)},
			})
			rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
				arr, err := ndarray.FromBytes(ndarray.Byte, []int{1, gridRows, gridCols}, []byte{0, 7, 255, 7, 7, 0})
				return arr, &raster.Info{}, err
			}
			m, _, err := scenes.NewSceneCollection(&rasterService, s1, s2).Mosaic(ctx, []string{"red"}, gc)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Mask).To(Equal([]bool{true, false, true, false, false, true}))
			// masking never alters the pixels themselves
			Expect(m.Data).To(Equal([]byte{0, 7, 255, 7, 7, 0}))
		})

		It("should return a plain array when masking is disabled", func() {
			s1 := testScene("area:s1", 1, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte, NoData: nd(0)},
			})
			rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
				arr, err := ndarray.FromBytes(ndarray.Byte, []int{1, gridRows, gridCols}, []byte{0, 7, 255, 7, 7, 0})
				return arr, &raster.Info{}, err
			}
			m, _, err := scenes.NewSceneCollection(&rasterService, s1).Mosaic(ctx, []string{"red"}, gc, scenes.WithoutNodataMask())
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Mask).To(BeNil())
			Expect(m.Data).To(Equal([]byte{0, 7, 255, 7, 7, 0}))
		})

		It("should fetch alpha last and strip it from the result", func() {
			withAlpha := scenes.NewSceneCollection(&rasterService,
				testScene("area:s1", 1, byteBands("red", "nir", "alpha")),
				testScene("area:s2", 2, byteBands("red", "nir", "alpha")),
			)
			m, _, err := withAlpha.Mosaic(ctx, []string{"red", "nir"}, gc)
			Expect(err).NotTo(HaveOccurred())
			Expect(rasterService.Requests()[0].Bands).To(Equal([]string{"red", "nir", "alpha"}))
			Expect(m.Shape).To(Equal([]int{2, gridRows, gridCols}))
			Expect(m.Mask).To(Equal(make([]bool, 2*plane)))
		})

		It("should mask every band under a transparent pixel", func() {
			withAlpha := scenes.NewSceneCollection(&rasterService,
				testScene("area:s1", 1, byteBands("red", "nir", "alpha")),
			)
			rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
				data := []byte{
					1, 2, 3, 4, 5, 6,
					7, 8, 9, 10, 11, 12,
					0, 0, 255, 255, 255, 255,
				}
				arr, err := ndarray.FromBytes(ndarray.Byte, []int{3, gridRows, gridCols}, data)
				return arr, &raster.Info{}, err
			}
			m, _, err := withAlpha.Mosaic(ctx, []string{"red", "nir"}, gc)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Shape).To(Equal([]int{2, gridRows, gridCols}))
			Expect(m.Mask).To(Equal([]bool{
				true, true, false, false, false, false,
				true, true, false, false, false, false,
			}))
			Expect(m.Data).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}))
		})

		It("should keep an explicitly requested alpha band", func() {
			withAlpha := scenes.NewSceneCollection(&rasterService,
				testScene("area:s1", 1, byteBands("red", "alpha")),
			)
			m, _, err := withAlpha.Mosaic(ctx, []string{"red", "alpha"}, gc)
			Expect(err).NotTo(HaveOccurred())
			Expect(rasterService.Requests()[0].Bands).To(Equal([]string{"red", "alpha"}))
			Expect(m.Shape).To(Equal([]int{2, gridRows, gridCols}))
			Expect(m.Mask).To(Equal(make([]bool, 2*plane)))
		})

		It("should fail when alpha masking is forced on a scene without alpha", func() {
			_, _, err := sc.Mosaic(ctx, []string{"red"}, gc, scenes.WithAlphaMask())
			Expect(err).To(MatchError(ContainSubstring("alpha masking requested")))
			Expect(rasterService.Calls()).To(Equal(0))
		})

		It("should not fetch alpha when alpha masking is disabled", func() {
			withAlpha := scenes.NewSceneCollection(&rasterService,
				testScene("area:s1", 1, byteBands("red", "nir", "alpha")),
			)
			m, _, err := withAlpha.Mosaic(ctx, []string{"red", "nir"}, gc, scenes.WithoutAlphaMask())
			Expect(err).NotTo(HaveOccurred())
			Expect(rasterService.Requests()[0].Bands).To(Equal([]string{"red", "nir"}))
			Expect(m.Mask).To(BeNil())
		})
	})

	It("should promote a two-dimensional response to one band plane", func() {
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			arr, err := ndarray.New(ndarray.Byte, gridRows, gridCols)
			return arr, &raster.Info{}, err
		}
		m, _, err := sc.Mosaic(ctx, []string{"red"}, gc)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Shape).To(Equal([]int{1, gridRows, gridCols}))
	})

	It("should fail fatally when the response does not cover the requested bands", func() {
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			arr, err := ndarray.New(ndarray.Byte, 1, gridRows, gridCols)
			return arr, &raster.Info{}, err
		}
		_, _, err := sc.Mosaic(ctx, []string{"red", "nir"}, gc)
		Expect(err).To(MatchError(ContainSubstring("got shape")))
		Expect(service.Fatal(err)).To(BeTrue())
	})

	It("should move the band axis only after masking", func() {
		s1 := testScene("area:s1", 1, map[string]scenes.Band{
			"red": {Name: "red", DataType: ndarray.Byte, NoData: nd(1)},
			"nir": {Name: "nir", DataType: ndarray.Byte},
		})
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			data := []byte{
				9, 1, 9, 9, 9, 9,
				20, 20, 20, 20, 20, 20,
			}
			arr, err := ndarray.FromBytes(ndarray.Byte, []int{2, gridRows, gridCols}, data)
			return arr, &raster.Info{}, err
		}
		m, _, err := scenes.NewSceneCollection(&rasterService, s1).Mosaic(ctx, []string{"red", "nir"}, gc, scenes.BandsAxis(-1))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Shape).To(Equal([]int{gridRows, gridCols, 2}))
		// pixel (0, 1) of band red moved to index 2, its mask bit with it
		Expect(m.Float(2)).To(Equal(1.0))
		for i, masked := range m.Mask {
			Expect(masked).To(Equal(i == 2), "mask at %d", i)
		}
	})

	It("should rasterize a single scene like a one-scene mosaic", func() {
		s := sc.Get(0)
		direct, _, err := s.NDArray(ctx, &rasterService, []string{"red"}, gc)
		Expect(err).NotTo(HaveOccurred())
		oneScene, _, err := scenes.NewSceneCollection(&rasterService, s).Mosaic(ctx, []string{"red"}, gc)
		Expect(err).NotTo(HaveOccurred())
		Expect(rasterService.Calls()).To(Equal(2))
		Expect(rasterService.Requests()[0].Keys).To(Equal([]string{"area:s1"}))
		Expect(direct.Shape).To(Equal(oneScene.Shape))
		Expect(direct.Data).To(Equal(oneScene.Data))
	})
})

var _ = Describe("Stack", func() {
	gc := scenes.GeoContext{
		SRS:        "EPSG:32632",
		Bounds:     &[4]float64{399960, 5190240, 400020, 5190280},
		Dimensions: &[2]int{gridCols, gridRows},
	}
	plane := gridRows * gridCols
	var sc *scenes.SceneCollection

	BeforeEach(func() {
		rasterService.Reset()
		sc = scenes.NewSceneCollection(&rasterService,
			testScene("area:s1", 1, byteBands("red", "nir")),
			testScene("area:s2", 1, byteBands("red", "nir")),
			testScene("area:s3", 2, byteBands("red", "nir")),
		)
	})

	It("should stack one item per scene in collection order", func() {
		m, infos, err := sc.Stack(ctx, []string{"red", "nir"}, gc)
		Expect(err).NotTo(HaveOccurred())
		Expect(rasterService.Calls()).To(Equal(3))
		seen := map[string]bool{}
		for _, req := range rasterService.Requests() {
			Expect(req.Keys).To(HaveLen(1))
			Expect(req.Order).To(Equal(raster.OrderGDAL))
			seen[req.Keys[0]] = true
		}
		Expect(seen).To(HaveLen(3))
		Expect(m.Shape).To(Equal([]int{3, 2, gridRows, gridCols}))
		Expect(m.Mask).To(BeNil())
		// slot order follows collection order, not completion order
		for i := 0; i < 3; i++ {
			base := i * 2 * plane
			Expect(m.Float(base)).To(Equal(float64(i+1)), "item %d red", i)
			Expect(m.Float(base+plane)).To(Equal(float64(i+11)), "item %d nir", i)
		}
		Expect(infos).To(HaveLen(3))
		for _, info := range infos {
			Expect(info).NotTo(BeNil())
		}
	})

	It("should produce the same bytes sequentially and in parallel", func() {
		par, _, err := sc.Stack(ctx, []string{"red", "nir"}, gc)
		Expect(err).NotTo(HaveOccurred())
		seq, _, err := sc.Stack(ctx, []string{"red", "nir"}, gc, scenes.MaxWorkers(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(seq.Shape).To(Equal(par.Shape))
		Expect(seq.Data).To(Equal(par.Data))
		Expect(seq.Mask).To(Equal(par.Mask))
	})

	It("should composite flattened groups into one item each", func() {
		m, infos, err := sc.Stack(ctx, []string{"red"}, gc, scenes.FlattenByPath("properties.date.day"))
		Expect(err).NotTo(HaveOccurred())
		Expect(rasterService.Calls()).To(Equal(2))
		var multi, single *raster.NDArrayRequest
		for _, req := range rasterService.Requests() {
			if len(req.Keys) == 2 {
				multi = req
			} else {
				single = req
			}
		}
		Expect(multi).NotTo(BeNil())
		Expect(multi.Keys).To(Equal([]string{"area:s1", "area:s2"}))
		Expect(single).NotTo(BeNil())
		Expect(single.Keys).To(Equal([]string{"area:s3"}))
		// group order: the first day comes first, its composite dominated by s2
		Expect(m.Shape).To(Equal([]int{2, 1, gridRows, gridCols}))
		Expect(m.Float(0)).To(Equal(2.0))
		Expect(m.Float(plane)).To(Equal(3.0))
		Expect(infos).To(HaveLen(2))
	})

	It("should flatten with a key function as with a path", func() {
		byFunc, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.FlattenBy(scenes.ByDay))
		Expect(err).NotTo(HaveOccurred())
		byPath, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.FlattenByPath("date.day"))
		Expect(err).NotTo(HaveOccurred())
		Expect(byFunc.Shape).To(Equal(byPath.Shape))
		Expect(byFunc.Data).To(Equal(byPath.Data))
	})

	It("should surface an invalid flatten path before any fetch", func() {
		_, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.FlattenByPath("properties.cloud"))
		Expect(err).To(MatchError(ContainSubstring("unsupported path")))
		Expect(rasterService.Calls()).To(Equal(0))
	})

	It("should reject the bands axis stacking items under bands", func() {
		for _, axis := range []int{0, -4} {
			_, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.BandsAxis(axis))
			var uerr *scenes.UnsupportedAxisError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(uerr.Op).To(Equal("stack"))
			Expect(uerr.Axis).To(Equal(axis))
		}
		Expect(rasterService.Calls()).To(Equal(0))
	})

	It("should reject a bands axis out of range", func() {
		for _, axis := range []int{4, -5} {
			_, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.BandsAxis(axis))
			var uerr *scenes.UnsupportedAxisError
			Expect(errors.As(err, &uerr)).To(BeTrue())
		}
		Expect(rasterService.Calls()).To(Equal(0))
	})

	It("should reject an empty collection", func() {
		empty := scenes.NewSceneCollection(&rasterService)
		_, _, err := empty.Stack(ctx, []string{"red"}, gc)
		Expect(errors.Is(err, scenes.ErrEmptyCollection)).To(BeTrue())
		Expect(rasterService.Calls()).To(Equal(0))
	})

	It("should place the bands axis last on request", func() {
		m, _, err := sc.Stack(ctx, []string{"red", "nir"}, gc, scenes.BandsAxis(-1))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Shape).To(Equal([]int{3, gridRows, gridCols, 2}))
		Expect(m.Float(0)).To(Equal(1.0))
		Expect(m.Float(1)).To(Equal(11.0))
	})

	It("should abort the whole stack when one item fails", func() {
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			if req.Keys[0] == "area:s2" {
				return nil, nil, service.MakeTemporary(fmt.Errorf("bad gateway"))
			}
			return defaultGrid(req)
		}
		_, _, err := sc.Stack(ctx, []string{"red"}, gc)
		Expect(err).To(MatchError(ContainSubstring("item 1")))
		Expect(service.Temporary(err)).To(BeTrue())
	})

	It("should fail fatally when items come back in different shapes", func() {
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			if req.Keys[0] == "area:s3" {
				arr, err := ndarray.New(ndarray.Byte, 1, gridRows+1, gridCols)
				return arr, &raster.Info{}, err
			}
			return defaultGrid(req)
		}
		_, _, err := sc.Stack(ctx, []string{"red"}, gc, scenes.MaxWorkers(1))
		Expect(err).To(MatchError(ContainSubstring("item 2")))
		Expect(service.Fatal(err)).To(BeTrue())
	})

	It("should mask only the items declaring sentinels", func() {
		masked := scenes.NewSceneCollection(&rasterService,
			testScene("area:s1", 1, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte, NoData: nd(1)},
			}),
			testScene("area:s2", 1, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte},
			}),
			testScene("area:s3", 2, map[string]scenes.Band{
				"red": {Name: "red", DataType: ndarray.Byte},
			}),
		)
		// item 0 comes back all ones, its declared sentinel
		m, _, err := masked.Stack(ctx, []string{"red"}, gc)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Mask).To(HaveLen(3 * plane))
		for i := 0; i < plane; i++ {
			Expect(m.Mask[i]).To(BeTrue(), "item 0 at %d", i)
			Expect(m.Mask[plane+i]).To(BeFalse(), "item 1 at %d", i)
			Expect(m.Mask[2*plane+i]).To(BeFalse(), "item 2 at %d", i)
		}
	})

	It("should fetch alpha per item and strip it from the result", func() {
		withAlpha := scenes.NewSceneCollection(&rasterService,
			testScene("area:s1", 1, byteBands("red", "alpha")),
			testScene("area:s2", 1, byteBands("red", "alpha")),
			testScene("area:s3", 2, byteBands("red", "alpha")),
		)
		m, _, err := withAlpha.Stack(ctx, []string{"red"}, gc)
		Expect(err).NotTo(HaveOccurred())
		for _, req := range rasterService.Requests() {
			Expect(req.Bands).To(Equal([]string{"red", "alpha"}))
		}
		Expect(m.Shape).To(Equal([]int{3, 1, gridRows, gridCols}))
		Expect(m.Mask).To(Equal(make([]bool, 3*plane)))
	})

	It("should bound the fetch pool", func() {
		wide := scenes.NewSceneCollection(&rasterService,
			testScene("area:p1", 1, byteBands("red")),
			testScene("area:p2", 1, byteBands("red")),
			testScene("area:p3", 1, byteBands("red")),
			testScene("area:p4", 2, byteBands("red")),
			testScene("area:p5", 2, byteBands("red")),
			testScene("area:p6", 2, byteBands("red")),
		)
		rasterService.respond = func(req *raster.NDArrayRequest) (*ndarray.Array, *raster.Info, error) {
			time.Sleep(5 * time.Millisecond)
			return defaultGrid(req)
		}
		m, _, err := wide.Stack(ctx, []string{"red"}, gc, scenes.MaxWorkers(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(rasterService.Calls()).To(Equal(6))
		Expect(rasterService.Peak()).To(BeNumerically("<=", 2))
		Expect(m.Shape).To(Equal([]int{6, 1, gridRows, gridCols}))
	})
})
