package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mholt/archiver"
	"github.com/sjudeng/planet-api-workshop/common"
	"github.com/sjudeng/planet-api-workshop/planet"
	"github.com/sjudeng/planet-api-workshop/service"
	"github.com/sjudeng/planet-api-workshop/service/log"
	"golang.org/x/sync/errgroup"
)

// Config gathers the retrieval knobs shared by every item of a run
type Config struct {
	// APIKey is only needed by the progress download path
	APIKey       string
	PollInterval time.Duration
	PollTimeout  time.Duration
	Jobs         int
	// WithProgress downloads through grab, logging progress, instead of the
	// plain streaming path
	WithProgress bool
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return 5 * time.Second
	}
	return c.PollInterval
}

// ProcessItem retrieves the asset of one item: activation, readiness poll,
// download, optional unzip, then delivery to storage
// It returns the uris of the delivered files
func ProcessItem(ctx context.Context, session *planet.Session, storage service.Storage, item common.Item, cfg Config, workdir string) ([]string, error) {
	// Working dir
	workdir = filepath.Join(workdir, uuid.New().String())
	if err := os.MkdirAll(workdir, 0766); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("make directory %s: %w", workdir, err))
	}
	defer os.RemoveAll(workdir)

	log.Logger(ctx).Sugar().Infof("retrieving %s:%s", item.SourceID, item.Data.AssetName)
	feature, err := session.GetItem(ctx, item.Data.ItemType, item.SourceID)
	if err != nil {
		return nil, fmt.Errorf("ProcessItem.%w", err)
	}
	features := []*planet.Feature{feature}
	if err := session.Activate(ctx, features, item.Data.AssetName); err != nil {
		return nil, fmt.Errorf("ProcessItem.%w", err)
	}
	if err := session.WaitForActive(ctx, features, item.Data.AssetName, cfg.pollInterval(), cfg.PollTimeout); err != nil {
		return nil, fmt.Errorf("ProcessItem.%w", err)
	}

	var localFile string
	if cfg.WithProgress {
		asset, err := session.Asset(ctx, feature, item.Data.AssetName)
		if err != nil {
			return nil, fmt.Errorf("ProcessItem.%w", err)
		}
		localFile, err = fetchLocation(ctx, asset.Location, cfg.APIKey, item.SourceID, workdir)
		if err != nil {
			return nil, fmt.Errorf("ProcessItem.%w", err)
		}
	} else {
		localFile, err = session.Download(ctx, feature, item.Data.AssetName, workdir)
		if err != nil {
			return nil, fmt.Errorf("ProcessItem.%w", err)
		}
	}

	localFiles := []string{localFile}
	if item.Data.Unarchive && strings.EqualFold(filepath.Ext(localFile), ".zip") {
		if localFiles, err = unarchive(localFile, workdir); err != nil {
			return nil, fmt.Errorf("ProcessItem.Unarchive: %w", err)
		}
	}

	uris := make([]string, 0, len(localFiles))
	for _, f := range localFiles {
		var uri string
		if err := service.Retriable(ctx, func() error {
			var serr error
			if uri, serr = storage.SaveAsset(ctx, item, f); serr != nil {
				return service.MakeTemporary(serr)
			}
			return nil
		}, 15*time.Second, 3); err != nil {
			return nil, fmt.Errorf("ProcessItem.%w (after 3 retries)", err)
		}
		uris = append(uris, uri)
	}
	log.Logger(ctx).Sugar().Infof("delivered %s: %s", item.SourceID, strings.Join(uris, ", "))
	return uris, nil
}

// ProcessOrder retrieves every item, cfg.Jobs at a time, failing fast on the
// first error
func ProcessOrder(ctx context.Context, session *planet.Session, storage service.Storage, items []common.Item, cfg Config, workdir string) error {
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if _, err := ProcessItem(ctx, session, storage, item, cfg, workdir); err != nil {
				return fmt.Errorf("ProcessOrder[%s].%w", item.SourceID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// unarchive the bundle, returning the files it contained. All errors are temporary
func unarchive(localZip, localDir string) ([]string, error) {
	tmpdir, err := os.MkdirTemp(localDir, filepath.Base(localZip))
	if err != nil {
		return nil, service.MakeTemporary(err)
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(localZip, tmpdir); err != nil {
		return nil, service.MakeTemporary(err)
	}
	var files []string
	if err := filepath.Walk(tmpdir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		dst := filepath.Join(localDir, info.Name())
		if err := os.Rename(path, dst); err != nil {
			return err
		}
		files = append(files, dst)
		return nil
	}); err != nil {
		return nil, service.MakeTemporary(err)
	}
	if len(files) == 0 {
		return nil, service.MakeTemporary(fmt.Errorf("empty zip"))
	}
	return files, nil
}
