package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/airbusgeo/osio"
	osioGcs "github.com/airbusgeo/osio/gcs"
	osioS3 "github.com/airbusgeo/osio/s3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sjudeng/planet-api-workshop/common"
	"google.golang.org/api/googleapi"
)

// ErrFileNotFound is an error returned by ImportAsset, DeleteAsset or ListArchive
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

// StatusCode implements HTTPError
func (e ErrFileNotFound) StatusCode() int {
	return 404
}

func isErrNotFound(err error) bool {
	var epath *os.PathError
	var gapiErr *googleapi.Error
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	switch {
	case errors.Is(err, gstorage.ErrObjectNotExist):
		return true
	case errors.As(err, &epath) && os.IsNotExist(epath):
		return true
	case errors.As(err, &gapiErr):
		return gapiErr.Code == 404
	case errors.As(err, &noSuchKey) || errors.As(err, &notFound):
		return true
	}
	return false
}

// ArchiveEntry is one file of a delivered zip bundle
type ArchiveEntry struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// Storage is a service to deliver downloaded item assets and retrieve them
type Storage interface {
	// SaveAsset persists the local file under the delivery location of the item
	// and returns the uri
	SaveAsset(ctx context.Context, item common.Item, localFile string) (string, error)
	// ImportAsset retrieves the delivered asset of the item into localdir
	// Raise ErrFileNotFound
	ImportAsset(ctx context.Context, item common.Item, filename, localdir string) error
	// DeleteAsset deletes the delivered asset of the item
	// Raise ErrFileNotFound
	DeleteAsset(ctx context.Context, item common.Item, filename string) error
	// ListArchive reads the table of contents of a delivered zip bundle in
	// place, without retrieving the archive
	// Raise ErrFileNotFound
	ListArchive(ctx context.Context, item common.Item, filename string) ([]ArchiveEntry, error)
}

// strategy is the low-level access to one storage backend
// Keys are relative to the destination uri
type strategy interface {
	upload(ctx context.Context, key string, r io.Reader) error
	downloadToFile(ctx context.Context, key, localFile string) error
	delete(ctx context.Context, key string) error
	// readerAt opens the object for random access (closer may be nil)
	readerAt(ctx context.Context, key string) (r io.ReaderAt, size int64, closer func() error, err error)
}

// DeliveryStorage implements Storage on a file://, gs:// or s3:// destination
type DeliveryStorage struct {
	base  string
	store strategy
}

// NewStorage creates the Storage matching the scheme of destURI
// s3:// destinations are configured from the usual AWS environment variables
func NewStorage(ctx context.Context, destURI string) (*DeliveryStorage, error) {
	scheme, bucket, root, err := parseStorageURI(destURI)
	if err != nil {
		return nil, fmt.Errorf("NewStorage.ParseURI[%s]: %w", destURI, err)
	}

	ds := &DeliveryStorage{base: strings.TrimRight(destURI, "/")}
	switch scheme {
	case "", "file":
		ds.store = fileStrategy{root: root}
	case "gs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("NewStorage.NewClient: %w", err)
		}
		ds.store = &gsStrategy{client: client, bucket: bucket, root: root}
	case "s3":
		opts := []func(*config.LoadOptions) error{}
		if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(id, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))))
		}
		if region := os.Getenv("AWS_REGION"); region != "" {
			opts = append(opts, config.WithRegion(region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("NewStorage.LoadDefaultConfig: %w", err)
		}
		client := s3.NewFromConfig(cfg)
		ds.store = &s3Strategy{
			client:     client,
			uploader:   manager.NewUploader(client),
			downloader: manager.NewDownloader(client),
			bucket:     bucket,
			root:       root,
		}
	default:
		return nil, fmt.Errorf("NewStorage: unsupported scheme %s", scheme)
	}
	return ds, nil
}

// SaveAsset implements Storage
func (ds *DeliveryStorage) SaveAsset(ctx context.Context, item common.Item, localFile string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Open: %w", err)
	}
	defer f.Close()

	key := ds.assetKey(item, filepath.Base(localFile))
	if err := ds.store.upload(ctx, key, f); err != nil {
		return "", fmt.Errorf("SaveAsset.Upload to %s: %w", ds.uriFor(key), err)
	}
	return ds.uriFor(key), nil
}

// ImportAsset implements Storage
func (ds *DeliveryStorage) ImportAsset(ctx context.Context, item common.Item, filename, localdir string) error {
	key := ds.assetKey(item, filename)
	dstFile := filepath.Join(localdir, filename)
	if err := ds.store.downloadToFile(ctx, key, dstFile); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{ds.uriFor(key)}
		}
		return fmt.Errorf("ImportAsset.DownloadToFile from %s: %w", ds.uriFor(key), err)
	}
	return nil
}

// DeleteAsset implements Storage
func (ds *DeliveryStorage) DeleteAsset(ctx context.Context, item common.Item, filename string) error {
	key := ds.assetKey(item, filename)
	if err := ds.store.delete(ctx, key); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{ds.uriFor(key)}
		}
		return fmt.Errorf("DeleteAsset.Delete: %w", err)
	}
	return nil
}

// ListArchive implements Storage
func (ds *DeliveryStorage) ListArchive(ctx context.Context, item common.Item, filename string) ([]ArchiveEntry, error) {
	key := ds.assetKey(item, filename)
	r, size, closer, err := ds.store.readerAt(ctx, key)
	if err != nil {
		if isErrNotFound(err) {
			return nil, ErrFileNotFound{ds.uriFor(key)}
		}
		return nil, fmt.Errorf("ListArchive.ReaderAt[%s]: %w", ds.uriFor(key), err)
	}
	if closer != nil {
		defer closer()
	}

	zipf, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("ListArchive.NewReader[%s]: %w", ds.uriFor(key), err)
	}
	entries := make([]ArchiveEntry, 0, len(zipf.File))
	for _, f := range zipf.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries = append(entries, ArchiveEntry{Name: f.Name, Size: f.UncompressedSize64})
	}
	return entries, nil
}

// assetKey returns the object key of the asset of the item, relative to the
// destination uri
func (ds *DeliveryStorage) assetKey(item common.Item, filename string) string {
	return path.Join(item.OrderID, item.DeliveryName(filename))
}

func (ds *DeliveryStorage) uriFor(key string) string {
	return ds.base + "/" + key
}

func parseStorageURI(s string) (scheme, bucket, key string, err error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", "", "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "":
		return "", "", s, nil
	case "file":
		return "file", "", u.Path, nil
	case "gs", "s3":
		if u.Host == "" {
			return "", "", "", fmt.Errorf("missing bucket")
		}
		return strings.ToLower(u.Scheme), u.Host, strings.Trim(u.Path, "/"), nil
	}
	return "", "", "", fmt.Errorf("unsupported scheme %s", u.Scheme)
}

type fileStrategy struct {
	root string
}

func (fs fileStrategy) upload(ctx context.Context, key string, r io.Reader) error {
	dst := filepath.Join(fs.root, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("Copy: %w", err)
	}
	return f.Close()
}

func (fs fileStrategy) downloadToFile(ctx context.Context, key, localFile string) error {
	src, err := os.Open(filepath.Join(fs.root, key))
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(localFile), 0755); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}
	dst, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("Copy: %w", err)
	}
	return dst.Close()
}

func (fs fileStrategy) delete(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(fs.root, key))
}

func (fs fileStrategy) readerAt(ctx context.Context, key string) (io.ReaderAt, int64, func() error, error) {
	f, err := os.Open(filepath.Join(fs.root, key))
	if err != nil {
		return nil, 0, nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, err
	}
	return f, stat.Size(), f.Close, nil
}

type gsStrategy struct {
	client *gstorage.Client
	bucket string
	root   string
}

func (gs *gsStrategy) object(key string) *gstorage.ObjectHandle {
	return gs.client.Bucket(gs.bucket).Object(path.Join(gs.root, key))
}

func (gs *gsStrategy) upload(ctx context.Context, key string, r io.Reader) error {
	w := gs.object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("Copy: %w", err)
	}
	return w.Close()
}

func (gs *gsStrategy) downloadToFile(ctx context.Context, key, localFile string) error {
	r, err := gs.object(key).NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(localFile), 0755); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("Copy: %w", err)
	}
	return f.Close()
}

func (gs *gsStrategy) delete(ctx context.Context, key string) error {
	return gs.object(key).Delete(ctx)
}

func (gs *gsStrategy) readerAt(ctx context.Context, key string) (io.ReaderAt, int64, func() error, error) {
	handle, err := osioGcs.Handle(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("GSHandle: %w", err)
	}
	adapter, err := osio.NewAdapter(handle)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("NewAdapter: %w", err)
	}
	obj, err := adapter.Reader(path.Join(gs.bucket, gs.root, key))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("Reader: %w", err)
	}
	return obj, obj.Size(), nil, nil
}

type s3Strategy struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	root       string
}

func (ss *s3Strategy) upload(ctx context.Context, key string, r io.Reader) error {
	_, err := ss.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(path.Join(ss.root, key)),
		Body:   r,
	})
	return err
}

func (ss *s3Strategy) downloadToFile(ctx context.Context, key, localFile string) error {
	if err := os.MkdirAll(filepath.Dir(localFile), 0755); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	defer f.Close()
	_, err = ss.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(path.Join(ss.root, key)),
	})
	return err
}

func (ss *s3Strategy) delete(ctx context.Context, key string) error {
	_, err := ss.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(path.Join(ss.root, key)),
	})
	return err
}

func (ss *s3Strategy) readerAt(ctx context.Context, key string) (io.ReaderAt, int64, func() error, error) {
	handle, err := osioS3.Handle(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("S3Handle: %w", err)
	}
	adapter, err := osio.NewAdapter(handle)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("NewAdapter: %w", err)
	}
	obj, err := adapter.Reader(path.Join(ss.bucket, ss.root, key))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("Reader: %w", err)
	}
	return obj, obj.Size(), nil, nil
}
