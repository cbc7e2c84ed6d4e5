// spool_test exercises the spool service against a real temporary
// directory and a real download service, with only the yt-dlp and
// Telegram layers stubbed out.
package spool_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/internal/ffmpeg"
	"github.com/telegrab/telegrab/internal/spool"
	"github.com/telegrab/telegrab/internal/ytdlp"
	"github.com/telegrab/telegrab/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type (
	Service interface {
		DiscoverNewFiles()
		AllItems() []*spool.SpoolItem
	}

	DownloadService interface {
		Submit(download.Request) (*download.DownloadItem, error)
		Finish(id uuid.UUID, deliveryErr error) error
		AllItems() []*download.DownloadItem
	}

	// fetcherStub mimics a successful yt-dlp run by dropping a tiny file in
	// the scratch workdir.
	fetcherStub struct{ t *testing.T }

	// shrinkerStub should never run as the stub downloads are tiny.
	shrinkerStub struct{}

	// delivererStub records which items were handed over for upload.
	delivererStub struct {
		mu        sync.Mutex
		delivered []*download.DownloadItem
	}
)

func (stub *fetcherStub) Download(_ context.Context, url string, mode ytdlp.Mode, _ int, workdir string) (*ytdlp.Result, error) {
	ext := "mp4"
	if mode == ytdlp.AUDIO {
		ext = "mp3"
	}

	path := filepath.Join(workdir, fmt.Sprintf("stub.%s", ext))
	require.Nil(stub.t, os.WriteFile(path, []byte("stub"), 0o644))
	return &ytdlp.Result{Path: path, Title: url, Ext: ext}, nil
}

func (stub *fetcherStub) ListPlaylist(_ context.Context, _ string, _ int) ([]string, error) {
	return nil, nil
}

func (stub *shrinkerStub) Shrink(_ context.Context, _ string, _ string, _ int, _ int, _ ffmpeg.ProgressCallback) error {
	return nil
}

func (stub *delivererStub) DeliverDownload(item *download.DownloadItem) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.delivered = append(stub.delivered, item)
	return nil
}

func (stub *delivererStub) deliveredItems() []*download.DownloadItem {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]*download.DownloadItem(nil), stub.delivered...)
}

// startServices brings up a real download service backed by the fetcher stub,
// and a spool service feeding it. Both are torn down via test cleanup.
func startServices(t *testing.T, config spool.Config, deliverer *delivererStub) (Service, DownloadService) {
	bus := event.New()
	downloadConfig := download.Config{
		Parallelism:          1,
		TargetMB:             49,
		DefaultHeight:        480,
		MaxShrinkHeight:      360,
		ScratchPath:          t.TempDir(),
		PlaylistDefaultLimit: 10,
	}

	downloadSrv, err := download.New(downloadConfig, &fetcherStub{t}, &shrinkerStub{}, nil, bus)
	require.Nil(t, err)

	spoolSrv, err := spool.New(config, downloadSrv, deliverer, bus, 480)
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	ctx, cancel := context.WithCancel(context.Background())
	for _, srv := range []interface {
		Run(context.Context) error
	}{downloadSrv, spoolSrv} {
		wg.Add(1)
		go func(srv interface {
			Run(context.Context) error
		}) {
			defer wg.Done()
			assert.Nil(t, srv.Run(ctx))
		}(srv)
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return spoolSrv, downloadSrv
}

// ageFile pushes a files modtime far enough into the past to skip the
// mid-write hold.
func ageFile(t *testing.T, path string) {
	old := time.Now().Add(-time.Minute)
	require.Nil(t, os.Chtimes(path, old, old))
}

func Test_RequestFile_ProcessedAndDeleted(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	requestPath := filepath.Join(tempDir, "requests.txt")
	content := "# weekend queue\nhttps://youtu.be/abc\nhttps://youtu.be/def audio\n\nhttps://youtu.be/ghi video 360\n"
	require.Nil(t, os.WriteFile(requestPath, []byte(content), 0o644))
	ageFile(t, requestPath)

	deliverer := &delivererStub{}
	cfg := spool.Config{Path: tempDir, DeliveryChatID: 42, ForceSyncSeconds: 100, RequiredModTimeAgeSeconds: 2}
	spoolSrv, downloadSrv := startServices(t, cfg, deliverer)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		delivered := deliverer.deliveredItems()
		if !assert.Len(c, delivered, 3) {
			return
		}

		assert.Equal(c, download.Request{ChatID: 42, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 480}, delivered[0].Request)
		assert.Equal(c, download.Request{ChatID: 42, URL: "https://youtu.be/def", Mode: ytdlp.AUDIO, Height: 480}, delivered[1].Request)
		assert.Equal(c, download.Request{ChatID: 42, URL: "https://youtu.be/ghi", Mode: ytdlp.VIDEO, Height: 360}, delivered[2].Request)

		// Finish was called for each item, so the download queue drains
		assert.Empty(c, downloadSrv.AllItems())

		// The spool file is removed (and it's item dropped) once processed
		_, statErr := os.Stat(requestPath)
		assert.True(c, os.IsNotExist(statErr))
		assert.Empty(c, spoolSrv.AllItems())
	}, time.Second*5, time.Millisecond*100)
}

func Test_FreshFile_HeldUntilModtimeAges(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	requestPath := filepath.Join(tempDir, "fresh.txt")
	require.Nil(t, os.WriteFile(requestPath, []byte("https://youtu.be/abc\n"), 0o644))

	deliverer := &delivererStub{}
	cfg := spool.Config{Path: tempDir, DeliveryChatID: 42, ForceSyncSeconds: 100, RequiredModTimeAgeSeconds: 2}
	spoolSrv, _ := startServices(t, cfg, deliverer)

	// Shortly after startup the item must be held, not processed
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		all := spoolSrv.AllItems()
		if assert.Len(c, all, 1) {
			assert.Equal(c, spool.HOLD, all[0].State)
		}
	}, time.Second, time.Millisecond*100)
	assert.Empty(t, deliverer.deliveredItems())

	// Once the modtime requirement passes, the hold releases on it's own
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Len(c, deliverer.deliveredItems(), 1)
	}, time.Second*5, time.Millisecond*100)
}

func Test_NonRequestFiles_Ignored(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	for _, name := range []string{"video.mp4", "notes.md", "archive.tar.gz"} {
		path := filepath.Join(tempDir, name)
		require.Nil(t, os.WriteFile(path, []byte("ignore me"), 0o644))
		ageFile(t, path)
	}

	deliverer := &delivererStub{}
	cfg := spool.Config{Path: tempDir, DeliveryChatID: 42, ForceSyncSeconds: 100, RequiredModTimeAgeSeconds: 2}
	spoolSrv, _ := startServices(t, cfg, deliverer)

	assert.Never(t, func() bool {
		return len(spoolSrv.AllItems()) > 0 || len(deliverer.deliveredItems()) > 0
	}, time.Second*2, time.Millisecond*200)
}

func Test_EmptyRequestFile_Troubled(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	requestPath := filepath.Join(tempDir, "empty.txt")
	require.Nil(t, os.WriteFile(requestPath, []byte("# only a comment\n\n"), 0o644))
	ageFile(t, requestPath)

	deliverer := &delivererStub{}
	cfg := spool.Config{Path: tempDir, DeliveryChatID: 42, ForceSyncSeconds: 100, RequiredModTimeAgeSeconds: 2}
	spoolSrv, _ := startServices(t, cfg, deliverer)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		all := spoolSrv.AllItems()
		if assert.Len(c, all, 1) {
			assert.Equal(c, spool.TROUBLED, all[0].State)
			assert.NotNil(c, all[0].Trouble)
		}
	}, time.Second*5, time.Millisecond*100)
	assert.Empty(t, deliverer.deliveredItems())
}
