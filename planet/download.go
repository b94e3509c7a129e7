package planet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
)

// Downloads are streamed to disk in chunks of downloadChunkSize, so peak
// memory stays proportional to the chunk size, not to the file size
const downloadChunkSize = 32 * 1024

var contentDispositionFilename = regexp.MustCompile(`filename="([^"]+)"`)

// Download retrieves the named asset of the feature into destDir and returns
// the path of the downloaded file
// The asset must be active: activate it and wait for it first
func (s *Session) Download(ctx context.Context, feature *Feature, assetName, destDir string) (string, error) {
	asset, err := s.Asset(ctx, feature, assetName)
	if err != nil {
		return "", fmt.Errorf("Download.%w", err)
	}
	if asset.Status != Active || asset.Location == "" {
		return "", fmt.Errorf("Download[%s]: asset %s is not active (%s)", feature.ID, assetName, asset.Status)
	}
	path, err := s.DownloadLocation(ctx, asset.Location, destDir)
	if err != nil {
		return "", fmt.Errorf("Download[%s].%w", feature.ID, err)
	}
	return path, nil
}

// DownloadLocation streams the file at an activated asset location into
// destDir. The file name is parsed from the Content-Disposition header of
// the response
func (s *Session) DownloadLocation(ctx context.Context, location, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", location, nil)
	if err != nil {
		return "", fmt.Errorf("DownloadLocation.NewRequest: %w", err)
	}
	resp, err := s.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	filename, err := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return "", err
	}
	path := filepath.Join(destDir, filename)
	if err := s.writeChunks(path, filename, resp.Body, resp.ContentLength); err != nil {
		return "", err
	}
	return path, nil
}

func filenameFromDisposition(disposition string) (string, error) {
	m := contentDispositionFilename.FindStringSubmatch(disposition)
	if m == nil {
		return "", &MalformedResponseError{Reason: fmt.Sprintf("no filename in content-disposition %q", disposition)}
	}
	return filepath.Base(m[1]), nil
}

// writeChunks streams r into path in bounded chunks, writing to a .part file
// renamed on completion so that an interrupted download never looks complete
func (s *Session) writeChunks(path, name string, r io.Reader, total int64) error {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return &DownloadError{Path: path, Err: err}
	}

	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(part)
				return &DownloadError{Path: path, Err: werr}
			}
			written += int64(n)
			if s.progress != nil {
				s.progress(name, written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			os.Remove(part)
			return &DownloadError{Path: path, Err: rerr}
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(part)
		return &DownloadError{Path: path, Err: err}
	}
	if err := os.Rename(part, path); err != nil {
		return &DownloadError{Path: path, Err: err}
	}
	return nil
}

// DownloadAll returns a lazy iterator performing one download per pulled
// feature, sequentially. The first failure ends the sequence
func (s *Session) DownloadAll(features []*Feature, assetName, destDir string) *DownloadIterator {
	return &DownloadIterator{session: s, features: features, assetName: assetName, destDir: destDir}
}

// DownloadIterator downloads the asset of one feature per call to Next
type DownloadIterator struct {
	session   *Session
	features  []*Feature
	assetName string
	destDir   string

	i    int
	path string
	err  error
}

// Next downloads the asset of the next feature
// It returns false when every feature is downloaded or a download failed (see Err)
func (it *DownloadIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.i >= len(it.features) {
		return false
	}
	path, err := it.session.Download(ctx, it.features[it.i], it.assetName, it.destDir)
	if err != nil {
		it.err = err
		return false
	}
	it.i++
	it.path = path
	return true
}

// Path returns the path of the last completed download
func (it *DownloadIterator) Path() string { return it.path }

// Err returns the error that ended the sequence, if any
func (it *DownloadIterator) Err() error { return it.err }
