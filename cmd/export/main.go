package main

import (
	"compress/flate"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mholt/archiver"
	"go.uber.org/zap"

	"github.com/tesseraeo/tessera-client-go/interface/places"
	"github.com/tesseraeo/tessera-client-go/interface/raster"
	"github.com/tesseraeo/tessera-client-go/interface/storage"
	"github.com/tesseraeo/tessera-client-go/ndarray"
	"github.com/tesseraeo/tessera-client-go/scenes"
	"github.com/tesseraeo/tessera-client-go/service"
	"github.com/tesseraeo/tessera-client-go/service/log"
)

type config struct {
	SceneIDs []string
	Bands    []string
	Mode     string
	Format   string
	Workers  int
	Flatten  []string

	SRS         string
	Resolution  float64
	Bounds      *[4]float64
	BoundsSRS   string
	Dimensions  *[2]int
	Place       string
	AlignPixels bool
	Resampler   string

	RasterURL    string
	PlacesURL    string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string

	WorkingDir string
	StorageURI string
	Zip        bool
	Quicklooks bool
}

func newAppConfig() (*config, error) {
	config := config{}
	scenesStr := flag.String("scenes", "", "comma-separated scene ids, or @file with one id per line")
	bandsStr := flag.String("bands", "", "comma-separated band names (alpha last if requested)")
	flag.StringVar(&config.Mode, "mode", "mosaic", "export mode: mosaic (one composite), stack (one item per scene or group) or files (encoded images)")
	flag.StringVar(&config.Format, "format", "", "encoded file format for the files mode (service default: GTiff)")
	flag.IntVar(&config.Workers, "workers", 0, "parallel fetches for the stack mode (default: scaled to the host)")
	flattenStr := flag.String("flatten", "", "comma-separated attribute paths grouping scenes into stack items (e.g. properties.date.day)")

	// Geocontext
	flag.StringVar(&config.SRS, "srs", "", "output spatial reference (e.g. EPSG:32632)")
	flag.Float64Var(&config.Resolution, "resolution", 0, "output resolution in srs units (exclusive with -size)")
	boundsStr := flag.String("bounds", "", "output bounds as minx,miny,maxx,maxy")
	flag.StringVar(&config.BoundsSRS, "bounds-srs", "", "srs of -bounds when it differs from -srs")
	sizeStr := flag.String("size", "", "output size as widthxheight (exclusive with -resolution)")
	flag.StringVar(&config.Place, "place", "", "named place used as cutline, resolved by the places service")
	flag.BoolVar(&config.AlignPixels, "align-pixels", false, "align the output grid on resolution multiples")
	flag.StringVar(&config.Resampler, "resampler", "", "resampling algorithm (near, bilinear, cubic, cubicspline, lanczos, average, mode)")

	// Services
	flag.StringVar(&config.RasterURL, "raster-url", raster.DefaultURL, "rasterization service url")
	flag.StringVar(&config.PlacesURL, "places-url", places.DefaultURL, "places service url")
	flag.StringVar(&config.Token, "token", "", "bearer token authenticating service calls")
	flag.StringVar(&config.ClientID, "client-id", "", "oauth2 client id (exclusive with -token)")
	flag.StringVar(&config.ClientSecret, "client-secret", "", "oauth2 client secret")
	flag.StringVar(&config.TokenURL, "token-url", "", "oauth2 token endpoint")

	// Outputs
	flag.StringVar(&config.WorkingDir, "workdir", os.TempDir(), "working directory to stage results")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri to save results (currently supported: local, gs, s3)")
	flag.BoolVar(&config.Zip, "zip", false, "bundle the staged files into a single zip before saving")
	flag.BoolVar(&config.Quicklooks, "quicklooks", false, "download the scene quicklooks along with the pixels")
	flag.Parse()

	var err error
	if config.SceneIDs, err = parseScenes(*scenesStr); err != nil {
		return nil, err
	}
	if len(config.SceneIDs) == 0 {
		return nil, fmt.Errorf("missing scenes config flag")
	}
	if *bandsStr == "" {
		return nil, fmt.Errorf("missing bands config flag")
	}
	config.Bands = strings.Split(*bandsStr, ",")
	switch config.Mode {
	case "mosaic", "stack", "files":
	default:
		return nil, fmt.Errorf("unknown mode '%s'", config.Mode)
	}
	if *flattenStr != "" {
		config.Flatten = strings.Split(*flattenStr, ",")
	}
	if *boundsStr != "" {
		if config.Bounds, err = parseBounds(*boundsStr); err != nil {
			return nil, err
		}
	}
	if *sizeStr != "" {
		if config.Dimensions, err = parseSize(*sizeStr); err != nil {
			return nil, err
		}
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	return &config, nil
}

// parseScenes keeps the first occurrence of each id, in order.
func parseScenes(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, ",")
	if strings.HasPrefix(s, "@") {
		raw, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, fmt.Errorf("scenes file: %w", err)
		}
		lines = strings.Split(string(raw), "\n")
	}
	var ids []string
	seen := service.StringSet{}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" && !seen.Exists(line) {
			seen.Push(line)
			ids = append(ids, line)
		}
	}
	return ids, nil
}

func parseBounds(s string) (*[4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed bounds '%s' (minx,miny,maxx,maxy)", s)
	}
	var b [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed bounds '%s': %w", s, err)
		}
		b[i] = v
	}
	return &b, nil
}

func parseSize(s string) (*[2]int, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed size '%s' (widthxheight)", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed size '%s': %w", s, err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed size '%s': %w", s, err)
	}
	return &[2]int{w, h}, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) (err error) {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	var opts []raster.Option
	switch {
	case config.Token != "":
		opts = append(opts, raster.WithToken(config.Token))
	case config.ClientID != "":
		if config.ClientSecret == "" || config.TokenURL == "" {
			return fmt.Errorf("client-id requires client-secret and token-url")
		}
		opts = append(opts, raster.WithClientCredentials(config.ClientID, config.ClientSecret, config.TokenURL))
	}
	if config.Place != "" {
		opts = append(opts, raster.WithPlaces(places.New(config.PlacesURL, config.Token)))
	}
	client := raster.New(config.RasterURL, opts...)

	collection := scenes.NewSceneCollection(client)
	for _, id := range config.SceneIDs {
		doc, err := client.BandsByKey(ctx, id)
		if err != nil {
			return fmt.Errorf("scene %s: %w", id, err)
		}
		s, err := scenes.NewScene(doc)
		if err != nil {
			return fmt.Errorf("scene %s: %w", id, err)
		}
		collection = collection.Append(s)
	}

	gc := scenes.GeoContext{
		SRS:         config.SRS,
		Resolution:  config.Resolution,
		Bounds:      config.Bounds,
		BoundsSRS:   config.BoundsSRS,
		Dimensions:  config.Dimensions,
		Location:    config.Place,
		AlignPixels: config.AlignPixels,
		Resampler:   config.Resampler,
	}
	if err := gc.Validate(); err != nil {
		return err
	}

	runID := uuid.New().String()
	workingDir := filepath.Join(config.WorkingDir, runID)
	if err = os.MkdirAll(workingDir, 0766); err != nil {
		return service.MakeTemporary(fmt.Errorf("make directory %s: %w", workingDir, err))
	}
	defer func() {
		if err == nil {
			os.RemoveAll(workingDir)
		} else {
			fmt.Println("Export failed. Staged files are still available here: " + workingDir)
		}
	}()

	var files []string

	if config.Quicklooks {
		for _, id := range collection.IDs() {
			local, err := client.DownloadQuicklook(ctx, id, workingDir)
			if err != nil {
				return fmt.Errorf("quicklook %s: %w", id, err)
			}
			files = append(files, local)
		}
	}

	switch config.Mode {
	case "mosaic":
		m, info, err := collection.Mosaic(ctx, config.Bands, gc)
		if err != nil {
			return err
		}
		staged, err := saveArray(workingDir, "mosaic", m, []*raster.Info{info})
		if err != nil {
			return err
		}
		files = append(files, staged...)
	case "stack":
		var sopts []scenes.Option
		if config.Workers > 0 {
			sopts = append(sopts, scenes.MaxWorkers(config.Workers))
		}
		if len(config.Flatten) > 0 {
			sopts = append(sopts, scenes.FlattenByPath(config.Flatten...))
		}
		m, infos, err := collection.Stack(ctx, config.Bands, gc, sopts...)
		if err != nil {
			return err
		}
		staged, err := saveArray(workingDir, "stack", m, infos)
		if err != nil {
			return err
		}
		files = append(files, staged...)
	case "files":
		var dt ndarray.DType
		for i := 0; i < collection.Len(); i++ {
			s := collection.Get(i)
			sdt, err := s.CommonDataType(config.Bands)
			if err != nil {
				return err
			}
			if dt == "" {
				dt = sdt
			} else if sdt != dt {
				return fmt.Errorf("scene %s resolves to %s, the other scenes to %s", s.ID, sdt, dt)
			}
		}
		params := raster.Params{
			Keys:        collection.IDs(),
			Bands:       config.Bands,
			DataType:    dt,
			SRS:         config.SRS,
			Resolution:  config.Resolution,
			Bounds:      config.Bounds,
			BoundsSRS:   config.BoundsSRS,
			Dimensions:  config.Dimensions,
			Location:    config.Place,
			AlignPixels: config.AlignPixels,
			Resampler:   config.Resampler,
		}
		rr, err := client.Raster(ctx, &raster.RasterRequest{Params: params, Format: config.Format})
		if err != nil {
			return err
		}
		for name, data := range rr.Files {
			local := filepath.Join(workingDir, filepath.Base(name))
			if err := os.WriteFile(local, data, 0666); err != nil {
				return fmt.Errorf("stage %s: %w", name, err)
			}
			files = append(files, local)
		}
	}

	if len(files) == 0 {
		return fmt.Errorf("nothing staged")
	}

	if config.Zip {
		dst := filepath.Join(workingDir, runID+".zip")
		zipper := archiver.NewZip()
		zipper.CompressionLevel = flate.BestSpeed
		if err := zipper.Archive(files, dst); err != nil {
			return fmt.Errorf("zip: %w", err)
		}
		files = []string{dst}
	}

	store, err := storage.NewStrategy(ctx, config.StorageURI)
	if err != nil {
		return err
	}
	base := strings.TrimRight(config.StorageURI, "/") + "/" + runID
	for _, local := range files {
		dst := base + "/" + filepath.Base(local)
		if err := service.Retriable(ctx, func() error {
			f, err := os.Open(local)
			if err != nil {
				return service.MakeFatal(err)
			}
			defer f.Close()
			return store.UploadFile(ctx, dst, f)
		}, 15*time.Second, 3); err != nil {
			return fmt.Errorf("save %s: %w (after 3 retries)", dst, err)
		}
		log.Logger(ctx).Sugar().Infof("saved %s", dst)
	}
	return nil
}

// arrayDescriptor documents a staged raw array: its axis layout, data type
// and the rasterization metadata of every fetch.
type arrayDescriptor struct {
	Shape    []int          `json:"shape"`
	DataType ndarray.DType  `json:"dtype"`
	Masked   bool           `json:"masked"`
	Metadata []*raster.Info `json:"metadata,omitempty"`
}

// saveArray stages the array as <name>.raw (C-order little-endian), the mask
// as <name>.mask.raw (one byte per element, 1 where masked) and a json
// descriptor telling the reader how to interpret both.
func saveArray(dir, name string, m *ndarray.MaskedArray, infos []*raster.Info) ([]string, error) {
	raw := filepath.Join(dir, name+".raw")
	if err := os.WriteFile(raw, m.Data, 0666); err != nil {
		return nil, fmt.Errorf("stage %s: %w", raw, err)
	}
	files := []string{raw}
	if m.Mask != nil {
		bits := make([]byte, len(m.Mask))
		for i, masked := range m.Mask {
			if masked {
				bits[i] = 1
			}
		}
		maskFile := filepath.Join(dir, name+".mask.raw")
		if err := os.WriteFile(maskFile, bits, 0666); err != nil {
			return nil, fmt.Errorf("stage %s: %w", maskFile, err)
		}
		files = append(files, maskFile)
	}
	desc, err := json.MarshalIndent(arrayDescriptor{Shape: m.Shape, DataType: m.DType, Masked: m.Mask != nil, Metadata: infos}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	descFile := filepath.Join(dir, name+".json")
	if err := os.WriteFile(descFile, desc, 0666); err != nil {
		return nil, fmt.Errorf("stage %s: %w", descFile, err)
	}
	return append(files, descFile), nil
}
