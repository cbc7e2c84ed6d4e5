// download_test exercises the download pipeline end-to-end with the
// yt-dlp and ffmpeg layers stubbed out. Files are really written to a
// temporary scratch directory so the size-based shrink decisions run
// against the filesystem, the same way they do in production.
package download_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	transcoderffmpeg "github.com/floostack/transcoder/ffmpeg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/internal/ffmpeg"
	"github.com/telegrab/telegrab/internal/ytdlp"
	"github.com/telegrab/telegrab/pkg/logger"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type (
	Service interface {
		Submit(download.Request) (*download.DownloadItem, error)
		ListPlaylist(ctx context.Context, url string, limit int) ([]string, error)
		Cancel(id uuid.UUID) error
		Finish(id uuid.UUID, deliveryErr error) error
		Item(id uuid.UUID) *download.DownloadItem
		AllItems() []*download.DownloadItem
	}

	// fetcherStub stands in for the yt-dlp client. The download function
	// receives the real scratch workdir so it can place files on disk.
	fetcherStub struct {
		downloadFn func(ctx context.Context, url string, mode ytdlp.Mode, height int, workdir string) (*ytdlp.Result, error)
		listFn     func(ctx context.Context, url string, limit int) ([]string, error)
	}

	// shrinkerStub stands in for the ffmpeg shrinker.
	shrinkerStub struct {
		shrinkFn func(ctx context.Context, inputPath string, outputPath string, targetMB int, height int, onProgress ffmpeg.ProgressCallback) error
	}

	// dataStoreStub records SaveCompleted calls.
	dataStoreStub struct {
		mu    sync.Mutex
		saved []savedRecord
	}

	savedRecord struct {
		item      *download.DownloadItem
		delivered bool
	}
)

func (stub *fetcherStub) Download(ctx context.Context, url string, mode ytdlp.Mode, height int, workdir string) (*ytdlp.Result, error) {
	return stub.downloadFn(ctx, url, mode, height, workdir)
}

func (stub *fetcherStub) ListPlaylist(ctx context.Context, url string, limit int) ([]string, error) {
	if stub.listFn == nil {
		return nil, errExpected
	}
	return stub.listFn(ctx, url, limit)
}

func (stub *shrinkerStub) Shrink(ctx context.Context, inputPath string, outputPath string, targetMB int, height int, onProgress ffmpeg.ProgressCallback) error {
	if stub.shrinkFn == nil {
		return errExpected
	}
	return stub.shrinkFn(ctx, inputPath, outputPath, targetMB, height, onProgress)
}

func (stub *dataStoreStub) SaveCompleted(item *download.DownloadItem, delivered bool) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.saved = append(stub.saved, savedRecord{item, delivered})
	return nil
}

func (stub *dataStoreStub) savedRecords() []savedRecord {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]savedRecord(nil), stub.saved...)
}

// fetcherWritingFile returns a fetcher which drops a file of the given size
// in the workdir, mimicking a successful yt-dlp run.
func fetcherWritingFile(t *testing.T, title string, sizeBytes int) *fetcherStub {
	return &fetcherStub{
		downloadFn: func(_ context.Context, _ string, mode ytdlp.Mode, _ int, workdir string) (*ytdlp.Result, error) {
			ext := "mp4"
			if mode == ytdlp.AUDIO {
				ext = "mp3"
			}

			path := filepath.Join(workdir, fmt.Sprintf("%s.%s", title, ext))
			require.Nil(t, os.WriteFile(path, make([]byte, sizeBytes), 0o644))
			return &ytdlp.Result{Path: path, Title: title, Ext: ext}, nil
		},
	}
}

func defaultConfig(t *testing.T) download.Config {
	return download.Config{
		Parallelism:          1,
		TargetMB:             1,
		DefaultHeight:        480,
		MaxShrinkHeight:      360,
		ScratchPath:          t.TempDir(),
		PlaylistDefaultLimit: 10,
	}
}

func startServiceWithBus(t *testing.T, config download.Config, fetcher download.Fetcher, shrinker download.Shrinker, dataStore download.DataStore, eventBus event.EventCoordinator) Service {
	srv, err := download.New(config, fetcher, shrinker, dataStore, eventBus)
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return srv
}

func startService(t *testing.T, config download.Config, fetcher download.Fetcher, shrinker download.Shrinker, dataStore download.DataStore) Service {
	return startServiceWithBus(t, config, fetcher, shrinker, dataStore, event.New())
}

// waitForConclusion blocks until the item reaches a terminal state.
func waitForConclusion(t *testing.T, item *download.DownloadItem) {
	select {
	case <-item.Done():
	case <-time.After(time.Second * 5):
		t.Fatalf("download item %s never reached a terminal state", item.ID)
	}
}

func Test_SmallDownload_ReadyWithoutShrink(t *testing.T) {
	t.Parallel()

	shrinkCalled := false
	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, _, _ string, _, _ int, _ ffmpeg.ProgressCallback) error {
		shrinkCalled = true
		return nil
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "small clip", 100*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.READY, item.State)
	assert.Equal(t, "small clip", item.Title())
	assert.EqualValues(t, 100*1024, item.SizeBytes())
	assert.False(t, shrinkCalled, "a file already under the target size must not be shrunk")
}

func Test_OversizedVideo_ShrunkBeforeReady(t *testing.T) {
	t.Parallel()

	var shrinkHeight int
	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, inputPath, outputPath string, _, height int, onProgress ffmpeg.ProgressCallback) error {
		shrinkHeight = height
		return os.WriteFile(outputPath, make([]byte, 500*1024), 0o644)
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "big clip", 2*1024*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 480})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.READY, item.State)
	assert.True(t, strings.HasSuffix(item.OutputPath(), ".small.mp4"), "the shrunk file should replace the original output")
	assert.EqualValues(t, 500*1024, item.SizeBytes())
	assert.Equal(t, 360, shrinkHeight, "shrink height must be capped at the configured maximum")
}

func Test_OversizedAudio_NeverShrunk(t *testing.T) {
	t.Parallel()

	shrinkCalled := false
	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, _, _ string, _, _ int, _ ffmpeg.ProgressCallback) error {
		shrinkCalled = true
		return nil
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "long mix", 2*1024*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.AUDIO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.READY, item.State)
	assert.False(t, shrinkCalled, "audio downloads must never pass through the shrink stage")
}

func Test_ShrinkOutputLarger_OriginalKept(t *testing.T) {
	t.Parallel()

	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, _, outputPath string, _, _ int, _ ffmpeg.ProgressCallback) error {
		return os.WriteFile(outputPath, make([]byte, 3*1024*1024), 0o644)
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "noisy clip", 2*1024*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.READY, item.State)
	assert.False(t, strings.HasSuffix(item.OutputPath(), ".small.mp4"), "a shrunk file that is not smaller must be discarded")
	assert.EqualValues(t, 2*1024*1024, item.SizeBytes())
}

func Test_ShrinkFailure_OriginalDelivered(t *testing.T) {
	t.Parallel()

	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, _, _ string, _, _ int, _ ffmpeg.ProgressCallback) error {
		return errExpected
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "stubborn clip", 2*1024*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.READY, item.State, "shrink failures must not fail the download")
	assert.EqualValues(t, 2*1024*1024, item.SizeBytes())
}

func Test_FetchFailure_ItemTroubled(t *testing.T) {
	t.Parallel()

	fetcher := &fetcherStub{downloadFn: func(_ context.Context, _ string, _ ytdlp.Mode, _ int, _ string) (*ytdlp.Result, error) {
		return nil, errExpected
	}}

	bus := event.New()
	srv := startServiceWithBus(t, defaultConfig(t), fetcher, &shrinkerStub{}, nil, bus)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.Equal(t, download.TROUBLED, item.State)
	require.NotNil(t, item.Trouble)
	assert.Equal(t, download.FETCH_FAILURE, item.Trouble.Stage())
	assert.Equal(t, errExpected.Error(), item.Trouble.Error())
}

func Test_Submit_RejectsDisallowedHost(t *testing.T) {
	t.Parallel()
	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, nil)

	_, err := srv.Submit(download.Request{ChatID: 1, URL: "https://vimeo.com/12345", Mode: ytdlp.VIDEO})
	assert.NotNil(t, err)
	assert.Empty(t, srv.AllItems())
}

func Test_Submit_DefaultsHeight(t *testing.T) {
	t.Parallel()
	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	assert.Equal(t, 480, item.Request.Height)
}

func Test_Finish_PersistsOutcomeAndRemovesItem(t *testing.T) {
	t.Parallel()

	dataStore := &dataStoreStub{}
	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, dataStore)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	require.Nil(t, srv.Finish(item.ID, nil))

	saved := dataStore.savedRecords()
	require.Len(t, saved, 1)
	assert.Equal(t, item.ID, saved[0].item.ID)
	assert.Equal(t, download.SENT, saved[0].item.State, "a delivered item must be persisted as sent")
	assert.True(t, saved[0].delivered)

	assert.Nil(t, srv.Item(item.ID))
	assert.Empty(t, srv.AllItems())
	assert.ErrorIs(t, srv.Finish(item.ID, nil), download.ErrItemNotFound)
}

func Test_Finish_DeliveryFailureRecordedAsTrouble(t *testing.T) {
	t.Parallel()

	dataStore := &dataStoreStub{}
	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, dataStore)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)
	require.Equal(t, download.READY, item.State)

	require.Nil(t, srv.Finish(item.ID, errExpected))

	saved := dataStore.savedRecords()
	require.Len(t, saved, 1)
	assert.False(t, saved[0].delivered)
	assert.Equal(t, download.TROUBLED, saved[0].item.State)
	require.NotNil(t, saved[0].item.Trouble)
	assert.Equal(t, download.DELIVERY_FAILURE, saved[0].item.Trouble.Stage())
	assert.Equal(t, errExpected.Error(), saved[0].item.Trouble.Error())
}

func Test_Cancel_WaitingItem(t *testing.T) {
	t.Parallel()

	// A fetcher which blocks forever keeps the single worker busy so a
	// second submission stays WAITING.
	release := make(chan struct{})
	blockingFetcher := &fetcherStub{downloadFn: func(ctx context.Context, _ string, _ ytdlp.Mode, _ int, _ string) (*ytdlp.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errExpected
	}}
	defer close(release)

	srv := startService(t, defaultConfig(t), blockingFetcher, &shrinkerStub{}, nil)

	first, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/one", Mode: ytdlp.VIDEO})
	require.Nil(t, err)

	// Wait for the worker to claim the first item before queueing the second
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, download.FETCHING, first.State)
	}, time.Second*2, time.Millisecond*50)

	second, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/two", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	require.Equal(t, download.WAITING, second.State)

	require.Nil(t, srv.Cancel(second.ID))
	waitForConclusion(t, second)
	assert.Equal(t, download.CANCELLED, second.State)
}

func Test_Cancel_RunningItem(t *testing.T) {
	t.Parallel()

	blockingFetcher := &fetcherStub{downloadFn: func(ctx context.Context, _ string, _ ytdlp.Mode, _ int, _ string) (*ytdlp.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	srv := startService(t, defaultConfig(t), blockingFetcher, &shrinkerStub{}, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, download.FETCHING, item.State)
	}, time.Second*2, time.Millisecond*50)

	require.Nil(t, srv.Cancel(item.ID))
	waitForConclusion(t, item)
	assert.Equal(t, download.CANCELLED, item.State)
}

func Test_Cancel_UnknownItem(t *testing.T) {
	t.Parallel()
	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, nil)

	assert.ErrorIs(t, srv.Cancel(uuid.New()), download.ErrItemNotFound)
}

func Test_ListPlaylist_LimitConvention(t *testing.T) {
	t.Parallel()

	var receivedLimit int
	fetcher := fetcherWritingFile(t, "clip", 10)
	fetcher.listFn = func(_ context.Context, _ string, limit int) ([]string, error) {
		receivedLimit = limit
		return []string{}, nil
	}

	srv := startService(t, defaultConfig(t), fetcher, &shrinkerStub{}, nil)

	_, err := srv.ListPlaylist(context.Background(), "https://www.youtube.com/@chan/videos", 0)
	require.Nil(t, err)
	assert.Equal(t, 10, receivedLimit, "a zero limit must apply the configured default")

	_, err = srv.ListPlaylist(context.Background(), "https://www.youtube.com/@chan/videos", -1)
	require.Nil(t, err)
	assert.Equal(t, 0, receivedLimit, "a negative limit must request all entries")

	_, err = srv.ListPlaylist(context.Background(), "https://www.youtube.com/@chan/videos", 5)
	require.Nil(t, err)
	assert.Equal(t, 5, receivedLimit)

	_, err = srv.ListPlaylist(context.Background(), "https://vimeo.com/album/1", 5)
	assert.NotNil(t, err)
}

func Test_Shutdown_RemovesScratchDirectories(t *testing.T) {
	t.Parallel()

	config := defaultConfig(t)
	srv, err := download.New(config, fetcherWritingFile(t, "leftover clip", 10), &shrinkerStub{}, nil, event.New())
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	entries, err := os.ReadDir(config.ScratchPath)
	require.Nil(t, err)
	require.NotEmpty(t, entries, "an item awaiting delivery must still have it's scratch directory")

	cancel()
	wg.Wait()

	entries, err = os.ReadDir(config.ScratchPath)
	require.Nil(t, err)
	assert.Empty(t, entries, "stopping the service must sweep the scratch directories of unfinished items")
}

func Test_ItemAccessors_ReadableDuringProcessing(t *testing.T) {
	t.Parallel()

	shrinker := &shrinkerStub{shrinkFn: func(_ context.Context, _, outputPath string, _, _ int, onProgress ffmpeg.ProgressCallback) error {
		for i := 1; i <= 20; i++ {
			onProgress(transcoderffmpeg.Progress{Progress: float64(i * 5)})
			time.Sleep(time.Millisecond)
		}
		return os.WriteFile(outputPath, make([]byte, 500*1024), 0o644)
	}}

	srv := startService(t, defaultConfig(t), fetcherWritingFile(t, "busy clip", 2*1024*1024), shrinker, nil)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)

	// Hammer the read-side accessors while the pipeline mutates the item
	stop := make(chan struct{})
	readers := sync.WaitGroup{}
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = item.Title()
				_ = item.OutputPath()
				_ = item.SizeBytes()
				_ = item.LastProgress()
			}
		}
	}()

	waitForConclusion(t, item)
	close(stop)
	readers.Wait()

	assert.Equal(t, download.READY, item.State)
	require.NotNil(t, item.LastProgress())
	assert.EqualValues(t, 100, item.LastProgress().Progress)
}

func Test_CompletedDownload_EmitsCompletionEvent(t *testing.T) {
	t.Parallel()

	bus := event.New()
	var mu sync.Mutex
	var completedID uuid.UUID
	bus.RegisterHandlerFunction(event.DOWNLOAD_COMPLETE, func(_ event.Event, payload event.Payload) {
		mu.Lock()
		defer mu.Unlock()
		completedID = payload.(uuid.UUID)
	})

	srv := startServiceWithBus(t, defaultConfig(t), fetcherWritingFile(t, "clip", 10), &shrinkerStub{}, nil, bus)

	item, err := srv.Submit(download.Request{ChatID: 1, URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO})
	require.Nil(t, err)
	waitForConclusion(t, item)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(c, item.ID, completedID)
	}, time.Second*2, time.Millisecond*50)
}
