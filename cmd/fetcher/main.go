package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"
	"github.com/sjudeng/planet-api-workshop/common"
	"github.com/sjudeng/planet-api-workshop/fetcher"
	"github.com/sjudeng/planet-api-workshop/planet"
	"github.com/sjudeng/planet-api-workshop/service"
	"github.com/sjudeng/planet-api-workshop/service/geometry"
	"github.com/sjudeng/planet-api-workshop/service/log"
	"go.uber.org/zap"
)

type config struct {
	APIKey         string
	AOIFile        string
	Start          time.Time
	End            time.Time
	ItemType       string
	AssetName      string
	DestDir        string
	StorageURI     string
	WorkingDir     string
	DeliveryPrefix string
	Unarchive      bool
	Jobs           int
	PollInterval   time.Duration
	PollTimeout    time.Duration
	WithProgress   bool
	Coverage       bool
	ListOnly       bool
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.APIKey, "api-key", "", "planet api key (defaults to the PL_API_KEY environment variable)")
	flag.StringVar(&config.AOIFile, "aoi", "", "geojson file with the area of interest")
	start := flag.String("start", "", "start of the acquisition interval (exclusive)")
	end := flag.String("end", "", "end of the acquisition interval (inclusive)")
	flag.StringVar(&config.ItemType, "item-type", "PSScene", "item type to search")
	flag.StringVar(&config.AssetName, "asset", "ortho_analytic_4b", "asset to retrieve")
	flag.StringVar(&config.DestDir, "dest", ".", "local directory receiving the downloads")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "delivery storage uri, local path, gs:// or s3:// (optional). When set, assets are staged in workdir and delivered there.")
	flag.StringVar(&config.WorkingDir, "workdir", os.TempDir(), "working directory to stage deliveries")
	flag.StringVar(&config.DeliveryPrefix, "delivery-prefix", "", `prefix of the delivered files (optional). Can contain several {IDENTIFIER} that will be replaced according to the item id.
	IDENTIFIER must be one of ITEM, DATE(YEAR/MONTH/DAY), TIME(HOUR/MINUTE/SECOND), SATELLITE_ID
	 `)
	flag.BoolVar(&config.Unarchive, "unarchive", false, "unzip bundle assets before delivery")
	flag.IntVar(&config.Jobs, "jobs", 1, "concurrent item retrievals (delivery mode)")
	flag.DurationVar(&config.PollInterval, "poll-interval", 5*time.Second, "activation polling period")
	flag.DurationVar(&config.PollTimeout, "timeout", 0, "activation polling deadline (0 to wait forever)")
	flag.BoolVar(&config.WithProgress, "progress", false, "log download progress")
	flag.BoolVar(&config.Coverage, "coverage", false, "report the aoi coverage of the matching items")
	flag.BoolVar(&config.ListOnly, "list-only", false, "list the matching items without downloading")
	flag.Parse()

	if config.AOIFile == "" {
		return nil, fmt.Errorf("missing aoi config flag")
	}
	if *start == "" {
		return nil, fmt.Errorf("missing start config flag")
	}
	if *end == "" {
		return nil, fmt.Errorf("missing end config flag")
	}
	var err error
	if config.Start, err = dateparse.ParseAny(*start); err != nil {
		return nil, fmt.Errorf("invalid start date %s: %w", *start, err)
	}
	if config.End, err = dateparse.ParseAny(*end); err != nil {
		return nil, fmt.Errorf("invalid end date %s: %w", *end, err)
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("PL_API_KEY")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	opts := []planet.Option{}
	if config.WithProgress && config.StorageURI == "" {
		last := map[string]int{}
		opts = append(opts, planet.WithProgress(func(name string, written, total int64) {
			if total <= 0 {
				return
			}
			if pct := int(100 * written / total); pct >= last[name]+10 {
				last[name] = pct - pct%10
				log.Logger(ctx).Sugar().Infof("%s: %d%%", name, pct)
			}
		}))
	}
	session, err := planet.NewSession(config.APIKey, opts...)
	if err != nil {
		return err
	}

	aoi, err := service.ReadGeometryFile(config.AOIFile)
	if err != nil {
		return fmt.Errorf("aoi %s: %w", config.AOIFile, err)
	}

	log.Logger(ctx).Sugar().Infof("searching %s items with a downloadable %s asset acquired %s to %s",
		config.ItemType, config.AssetName, config.Start.Format("2006-01-02"), config.End.Format("2006-01-02"))
	var features []*planet.Feature
	it := session.Search(planet.SearchFilter{
		Geometry:  aoi,
		Start:     config.Start,
		End:       config.End,
		ItemType:  config.ItemType,
		AssetName: config.AssetName,
	})
	for it.Next(ctx) {
		features = append(features, it.Feature())
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	log.Logger(ctx).Sugar().Infof("%d items found", len(features))

	if config.Coverage {
		satellites := service.StringSet{}
		footprints := make([]geom.Geometry, 0, len(features))
		for _, f := range features {
			footprint, err := f.Footprint()
			if err != nil {
				return fmt.Errorf("coverage: %w", err)
			}
			footprints = append(footprints, footprint)
			satellites.Push(f.SatelliteID())
		}
		coverage, err := geometry.Coverage(aoi, footprints)
		if err != nil {
			return fmt.Errorf("coverage: %w", err)
		}
		log.Logger(ctx).Sugar().Infof("%.1f%% of the aoi covered by %d satellites (%s)",
			100*coverage, len(satellites), strings.Join(satellites.Slice(), ", "))
	}

	if config.ListOnly {
		for _, f := range features {
			acquired, err := f.Acquired()
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			fmt.Printf("%s\t%s\tcloud %.2f\n", f.ID, acquired.Format(time.RFC3339), f.CloudCover())
		}
		return nil
	}

	// Delivery mode: stage in workdir, deliver to the storage
	if config.StorageURI != "" {
		storage, err := service.NewStorage(ctx, config.StorageURI)
		if err != nil {
			return fmt.Errorf("storage %s: %w", config.StorageURI, err)
		}
		items := make([]common.Item, len(features))
		for i, f := range features {
			items[i] = common.Item{
				ID:       i + 1,
				SourceID: f.ID,
				Data: common.ItemAttrs{
					ItemType:       config.ItemType,
					AssetName:      config.AssetName,
					DeliveryPrefix: config.DeliveryPrefix,
					Unarchive:      config.Unarchive,
				},
			}
		}
		cfg := fetcher.Config{
			APIKey:       config.APIKey,
			PollInterval: config.PollInterval,
			PollTimeout:  config.PollTimeout,
			Jobs:         config.Jobs,
			WithProgress: config.WithProgress,
		}
		if err := fetcher.ProcessOrder(ctx, session, storage, items, cfg, config.WorkingDir); err != nil {
			return fmt.Errorf("delivery: %w", err)
		}
		log.Logger(ctx).Sugar().Infof("%d items delivered to %s", len(items), config.StorageURI)
		return nil
	}

	if err := session.Activate(ctx, features, config.AssetName); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if err := session.WaitForActive(ctx, features, config.AssetName, config.PollInterval, config.PollTimeout); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	dl := session.DownloadAll(features, config.AssetName, config.DestDir)
	for dl.Next(ctx) {
		log.Logger(ctx).Sugar().Infof("downloaded %s", dl.Path())
	}
	if err := dl.Err(); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	log.Logger(ctx).Sugar().Infof("%d items downloaded to %s", len(features), config.DestDir)
	return nil
}
