package douyin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloper/douyin-fetch/internal/cacheindex"
)

const testAwemeID = "710567891234567890"

// testBackend fakes both the metadata API and the media CDN on one server.
type testBackend struct {
	srv      *httptest.Server
	apiHits  atomic.Int64
	fileHits atomic.Int64
	// document is returned by the metadata endpoint; {{base}} placeholders
	// are substituted with the server URL before serving.
	document string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/id", func(w http.ResponseWriter, r *http.Request) {
		b.apiHits.Add(1)
		doc := strings.ReplaceAll(b.document, "{{base}}", b.srv.URL)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		b.fileHits.Add(1)
		_, _ = w.Write([]byte("media-bytes:" + r.URL.Path))
	})
	mux.HandleFunc("/broken/", func(w http.ResponseWriter, r *http.Request) {
		b.fileHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/truncated/", func(w http.ResponseWriter, r *http.Request) {
		b.fileHits.Add(1)
		// Declare more bytes than are written so the client sees a
		// mid-transfer failure.
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) newDownloader(t *testing.T, remap map[string]string) (*Downloader, *cacheindex.Index) {
	t.Helper()
	dir := t.TempDir()
	ix, err := cacheindex.New(filepath.Join(dir, "index.db"), filepath.Join(dir, "json"), remap)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	client, err := NewClient(ClientConfig{
		IDAPIURL:  b.srv.URL + "/api/id",
		URLAPIURL: b.srv.URL + "/api/share",
		AuthKey:   "test-key",
		Timeout:   5,
	})
	require.NoError(t, err)

	dl := NewDownloader(client, ix, DownloaderConfig{
		VideoDir:        filepath.Join(dir, "videos"),
		ImageDir:        filepath.Join(dir, "images"),
		UIDToName:       remap,
		DownloadTimeout: 5,
	})
	return dl, ix
}

func videoDoc(mirrors ...string) string {
	urls := `"` + strings.Join(mirrors, `","`) + `"`
	if len(mirrors) == 0 {
		urls = ""
	}
	return fmt.Sprintf(`{"code":200,"data":{"aweme_detail":{
		"aweme_id":%q,"desc":"a test video","media_type":4,
		"author":{"uid":"10086","nickname":"tester"},
		"video":{"play_addr":{"url_list":[%s]}}}}}`, testAwemeID, urls)
}

func TestRetrieve_SingleVideo(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/files/v.mp4")
	dl, _ := b.newDownloader(t, map[string]string{"10086": "Alice"})

	files, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dl.cfg.VideoDir, "Alice", "a test video.mp4"), files[0])

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "media-bytes")
}

func TestRetrieve_CacheIdempotence(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/files/v.mp4")
	dl, _ := b.newDownloader(t, nil)

	first, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.apiHits.Load())

	second, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), b.apiHits.Load(), "warm cache must not hit the API again")
	assert.Equal(t, first, second)
}

func TestRetrieve_ConcurrentSameKeyFetchesOnce(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/files/v.mp4")
	dl, _ := b.newDownloader(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dl.Retrieve(context.Background(), testAwemeID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Callers either join the in-flight fetch or hit the populated cache.
	assert.Equal(t, int64(1), b.apiHits.Load())
}

func TestRetrieve_IdempotentRerunSkipsDownloads(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/files/v.mp4")
	dl, _ := b.newDownloader(t, nil)

	first, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	downloadsAfterFirst := b.fileHits.Load()

	second, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)

	assert.Equal(t, downloadsAfterFirst, b.fileHits.Load(), "existing files must not be re-downloaded")
	assert.Equal(t, first, second)
}

func TestRetrieve_MirrorFallback(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/broken/v.mp4", "{{base}}/files/v.mp4")
	dl, _ := b.newDownloader(t, nil)

	files, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(2), b.fileHits.Load())
}

func TestRetrieve_EmptyMirrorListFailsSingleVideo(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc()
	dl, _ := b.newDownloader(t, nil)

	_, err := dl.Retrieve(context.Background(), testAwemeID)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
}

func TestRetrieve_ExhaustedMirrorsOnOnlyPair(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/broken/v.mp4", "{{base}}/broken/v2.mp4")
	dl, _ := b.newDownloader(t, nil)

	_, err := dl.Retrieve(context.Background(), testAwemeID)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
}

func TestRetrieve_GallerySurvivesOneFailedPair(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = fmt.Sprintf(`{"code":200,"data":{"aweme_detail":{
		"aweme_id":%q,"desc":"gallery","media_type":2,
		"author":{"uid":"10086","nickname":"tester"},
		"images":[
			{"url_list":["{{base}}/files/i1.jpg"]},
			{"url_list":["{{base}}/broken/i2.jpg"]},
			{"url_list":["{{base}}/files/i3.jpg"]}
		]}}}`, testAwemeID)
	dl, _ := b.newDownloader(t, nil)

	files, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err, "a failed pair must not abort the batch")
	require.Len(t, files, 2)
	for _, f := range files {
		assert.NotContains(t, f, "image_02")
	}
}

func TestRetrieve_MixedGalleryPrefersItemVideo(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = fmt.Sprintf(`{"code":200,"data":{"aweme_detail":{
		"aweme_id":%q,"desc":"mixed","media_type":42,
		"author":{"uid":"10086","nickname":"tester"},
		"video":{"play_addr":{"url_list":["{{base}}/files/cover.mp4"]}},
		"images":[
			{"url_list":["{{base}}/files/i1.jpg"],
			 "video":{"play_addr_h264":{"url_list":["{{base}}/files/clip1.mp4"]}}},
			{"url_list":["{{base}}/files/i2.jpg"]}
		]}}}`, testAwemeID)
	dl, _ := b.newDownloader(t, nil)

	files, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "video_01.mp4", filepath.Base(files[0]))
	assert.Equal(t, "image_02.jpg", filepath.Base(files[1]))
	// Mixed galleries land under the video root.
	assert.True(t, strings.HasPrefix(files[0], dl.cfg.VideoDir))
}

func TestRetrieve_PartialDownloadLeavesNoArtifact(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = videoDoc("{{base}}/truncated/v.mp4")
	dl, _ := b.newDownloader(t, nil)

	_, err := dl.Retrieve(context.Background(), testAwemeID)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.NoFileExists(t, dlErr.Dest)
}

func TestRetrieve_ParseErrorSurfaces(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	dl, _ := b.newDownloader(t, nil)

	_, err := dl.Retrieve(context.Background(), "definitely not a work id")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, int64(0), b.apiHits.Load())
}

func TestRetrieve_APIFailureIsFetchError(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = `{"code":500,"message":"rate limited"}`
	dl, _ := b.newDownloader(t, nil)

	_, err := dl.Retrieve(context.Background(), testAwemeID)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, fetchErr.Message, "rate limited")
}

func TestRetrieve_UnknownShapeYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.document = fmt.Sprintf(`{"code":200,"data":{"aweme_detail":{
		"aweme_id":%q,"desc":"mystery","media_type":99,
		"author":{"uid":"10086"}}}}`, testAwemeID)
	dl, _ := b.newDownloader(t, nil)

	files, err := dl.Retrieve(context.Background(), testAwemeID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDownloader_HeicAwaitingConversionIsRedownloaded(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	dl, _ := b.newDownloader(t, nil)

	dest := filepath.Join(t.TempDir(), "image_01.heic")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	err := dl.downloadWithRetry(context.Background(), downloadPair{
		urls: []string{b.srv.URL + "/files/i1.heic"},
		dest: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.fileHits.Load())

	// Once the converted counterpart exists the skip applies again.
	require.NoError(t, os.WriteFile(strings.TrimSuffix(dest, ".heic")+".jpg", []byte("jpg"), 0o644))
	require.NoError(t, dl.downloadWithRetry(context.Background(), downloadPair{
		urls: []string{b.srv.URL + "/files/i1.heic"},
		dest: dest,
	}))
	assert.Equal(t, int64(1), b.fileHits.Load())
}
