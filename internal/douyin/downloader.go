package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kaloper/douyin-fetch/internal/cacheindex"
	"github.com/kaloper/douyin-fetch/pkg/file"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Converter post-processes a downloaded image in an intermediate format
// (HEIC) into its final form. Conversion itself lives outside this package;
// a nil Converter leaves files as downloaded.
type Converter interface {
	Convert(ctx context.Context, path string) error
}

// DownloaderConfig holds the on-disk layout and download behavior.
type DownloaderConfig struct {
	VideoDir  string
	ImageDir  string
	UIDToName map[string]string
	// DownloadTimeout is the per-file timeout in seconds.
	DownloadTimeout int
}

// Downloader resolves a work identifier into downloaded files: parse,
// fetch-or-cache metadata, classify the media shape, then download every
// referenced file with per-URL mirror fallback.
type Downloader struct {
	client     *Client
	index      *cacheindex.Index
	cfg        DownloaderConfig
	converter  Converter
	httpClient *http.Client
	fetchGroup singleflight.Group
}

type DownloaderOption func(*Downloader)

// WithConverter installs the image post-processing collaborator.
func WithConverter(c Converter) DownloaderOption {
	return func(d *Downloader) {
		d.converter = c
	}
}

func NewDownloader(client *Client, index *cacheindex.Index, cfg DownloaderConfig, opts ...DownloaderOption) *Downloader {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 300
	}
	if cfg.UIDToName == nil {
		cfg.UIDToName = make(map[string]string)
	}
	d := &Downloader{
		client: client,
		index:  index,
		cfg:    cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.DownloadTimeout) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// downloadPair is one file to produce: an ordered mirror list and the
// destination it lands at.
type downloadPair struct {
	urls []string
	dest string
}

// Retrieve is the pipeline entry point. It returns the destinations that
// exist on disk once all downloads settle. A ParseError, FetchError or (for a
// single-deliverable job) DownloadError aborts; per-pair failures inside a
// gallery are logged and skipped.
func (d *Downloader) Retrieve(ctx context.Context, text string) ([]string, error) {
	req, err := ParseInput(text)
	if err != nil {
		return nil, err
	}

	detail, err := d.fetchOrCache(ctx, req)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		log.Warn("No detail data for key %s", req.CacheKey)
		return nil, nil
	}

	kind := Classify(detail)
	log.Info("Processing %s | type: %s (media_type=%d)", req.CacheKey, kind, detail.MediaType)

	var pairs []downloadPair
	switch kind {
	case KindSingleVideo:
		pairs, err = d.singleVideoPlan(detail)
		if err != nil {
			return nil, err
		}
	case KindImageGallery:
		pairs = d.galleryPlan(detail, false)
	case KindMixedGallery:
		pairs = d.galleryPlan(detail, true)
	default:
		log.Error("Unsupported media type for %s: %d", req.CacheKey, detail.MediaType)
		return nil, nil
	}

	return d.batchDownload(ctx, pairs)
}

// fetchOrCache loads the cached document for the key or fetches and persists
// a fresh one. Concurrent calls for the same key collapse into one upstream
// request.
func (d *Downloader) fetchOrCache(ctx context.Context, req Request) (*AwemeDetail, error) {
	v, err, _ := d.fetchGroup.Do(req.CacheKey, func() (interface{}, error) {
		if path, ok := d.index.Lookup(ctx, req.CacheKey); ok {
			raw, err := os.ReadFile(path)
			if err == nil {
				var envelope Envelope
				if err := json.Unmarshal(raw, &envelope); err == nil {
					log.Info("Using cached document: %s", path)
					return envelope.Data.AwemeDetail, nil
				}
				log.Warn("Cached document %s is malformed, refetching", path)
			} else {
				log.Warn("Failed to read cached document %s, refetching: %v", path, err)
			}
		}

		log.Info("Cache miss, fetching metadata for %q from API...", req.CacheKey)
		envelope, raw, err := d.client.FetchDetail(ctx, req)
		if err != nil {
			return nil, err
		}

		if envelope.Data.AwemeDetail != nil {
			if _, err := d.index.Save(ctx, req.CacheKey, raw); err != nil {
				return nil, fmt.Errorf("persist metadata for %s: %w", req.CacheKey, err)
			}
		}
		return envelope.Data.AwemeDetail, nil
	})
	if err != nil {
		return nil, err
	}
	detail, _ := v.(*AwemeDetail)
	return detail, nil
}

// authorName resolves the folder component for media paths: the remapped
// display name when the uid is known, the nickname otherwise.
func (d *Downloader) authorName(detail *AwemeDetail) string {
	if name, ok := d.cfg.UIDToName[detail.Author.UID]; ok {
		return name
	}
	if detail.Author.Nickname != "" {
		return file.SafeName(detail.Author.Nickname)
	}
	return "UnknownAuthor"
}

func (d *Downloader) singleVideoPlan(detail *AwemeDetail) ([]downloadPair, error) {
	urls := detail.Video.URLs()
	dest := filepath.Join(d.cfg.VideoDir, d.authorName(detail), file.SafeName(detail.Title())+".mp4")
	if len(urls) == 0 {
		return nil, &DownloadError{Dest: dest, Err: fmt.Errorf("no video play address")}
	}
	return []downloadPair{{urls: urls, dest: dest}}, nil
}

// galleryPlan builds one pair per gallery item, numbered by item position.
// Mixed galleries land under the video root and prefer an item's video
// mirrors; plain galleries land under the image root.
func (d *Downloader) galleryPlan(detail *AwemeDetail, mixed bool) []downloadPair {
	baseRoot := d.cfg.ImageDir
	if mixed {
		baseRoot = d.cfg.VideoDir
	}
	saveDir := filepath.Join(baseRoot, d.authorName(detail), file.SafeName(detail.Title()))

	pairs := make([]downloadPair, 0, len(detail.Images))
	for i, item := range detail.Images {
		if videoURLs := item.Video.URLs(); mixed && len(videoURLs) > 0 {
			pairs = append(pairs, downloadPair{
				urls: videoURLs,
				dest: filepath.Join(saveDir, fmt.Sprintf("video_%02d.mp4", i+1)),
			})
			continue
		}
		if len(item.URLList) > 0 {
			pairs = append(pairs, downloadPair{
				urls: item.URLList,
				dest: filepath.Join(saveDir, fmt.Sprintf("image_%02d%s", i+1, imageExt(item.URLList[0]))),
			})
		}
	}
	log.Info("Gallery %s: %d files to fetch", saveDir, len(pairs))
	return pairs
}

// imageExt derives the destination extension from a mirror URL path,
// defaulting to the platform's HEIC delivery format.
func imageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".heic"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
		return ext
	default:
		return ".heic"
	}
}

// batchDownload runs every pair concurrently and returns the destinations
// that exist afterwards. A failed pair never aborts its siblings; it only
// surfaces as an error when it was the sole pair.
func (d *Downloader) batchDownload(ctx context.Context, pairs []downloadPair) ([]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i := range pairs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.downloadWithRetry(ctx, pairs[i])
		}(i)
	}
	wg.Wait()

	existing := make([]string, 0, len(pairs))
	for i, pair := range pairs {
		if errs[i] != nil {
			log.Error("Download failed: %s, error=%v", filepath.Base(pair.dest), errs[i])
		}
		if fileExists(pair.dest) {
			existing = append(existing, pair.dest)
		}
	}

	if len(pairs) == 1 && errs[0] != nil && len(existing) == 0 {
		return nil, errs[0]
	}
	return existing, nil
}

// downloadWithRetry attempts the pair's mirrors in order until one succeeds.
// An existing destination is already satisfied, except a HEIC file whose
// converted counterpart never appeared: that one is fetched again so the
// conversion can rerun.
func (d *Downloader) downloadWithRetry(ctx context.Context, pair downloadPair) error {
	if fileExists(pair.dest) {
		if d.awaitingConversion(pair.dest) {
			log.Info("Found %s without its converted counterpart, re-downloading", filepath.Base(pair.dest))
		} else {
			log.Info("File already exists, skipping: %s", filepath.Base(pair.dest))
			return nil
		}
	}

	if len(pair.urls) == 0 {
		return &DownloadError{Dest: pair.dest, Err: fmt.Errorf("no download urls provided")}
	}

	var lastErr error
	for i, u := range pair.urls {
		log.Info("Trying mirror #%d/%d for %s", i+1, len(pair.urls), filepath.Base(pair.dest))
		if err := d.downloadFile(ctx, u, pair.dest); err != nil {
			log.Warn("Mirror #%d failed (%s): %v", i+1, u, err)
			lastErr = err
			continue
		}
		return nil
	}

	log.Error("All mirrors failed for %s", filepath.Base(pair.dest))
	return &DownloadError{Dest: pair.dest, Err: lastErr}
}

// downloadFile streams one URL to dest. A mid-write failure removes the
// partial file so a later run never mistakes it for a complete one.
func (d *Downloader) downloadFile(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("close file: %w", err)
	}

	log.Info("Downloaded %s", dest)

	if strings.EqualFold(filepath.Ext(dest), ".heic") && d.converter != nil {
		if err := d.converter.Convert(ctx, dest); err != nil {
			log.Warn("HEIC conversion failed for %s: %v", filepath.Base(dest), err)
		}
	}
	return nil
}

// awaitingConversion reports whether dest is a HEIC download whose JPEG
// counterpart is still missing.
func (d *Downloader) awaitingConversion(dest string) bool {
	if !strings.EqualFold(filepath.Ext(dest), ".heic") {
		return false
	}
	return !fileExists(file.ReplaceExt(dest, ".jpg"))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
