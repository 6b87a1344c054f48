package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// blockingInvoker reports every invocation and holds it until released
type blockingInvoker struct {
	started chan types.Invocation
	release chan struct{}
	err     error
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{
		started: make(chan types.Invocation, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingInvoker) Download(ctx context.Context, invocation types.Invocation, sink EventSink) error {
	b.started <- invocation
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return b.err
}

func (b *blockingInvoker) next(t *testing.T) types.Invocation {
	t.Helper()
	select {
	case invocation := <-b.started:
		return invocation
	case <-time.After(2 * time.Second):
		t.Fatal("no download was dispatched")
		return types.Invocation{}
	}
}

type failingInvoker struct {
	err error
}

func (f failingInvoker) Download(ctx context.Context, invocation types.Invocation, sink EventSink) error {
	return f.err
}

// recorder keeps every snapshot published by the queue
type recorder struct {
	mu    sync.Mutex
	items []*types.Item
}

func (r *recorder) ItemUpdated(item *types.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func (r *recorder) snapshots() []*types.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Item(nil), r.items...)
}

func testRequest(url string) types.DownloadRequest {
	return types.DownloadRequest{
		URL:         url,
		OutputDir:   "/downloads",
		VideoTitle:  "A video",
		AudioFormat: &types.Format{FormatID: "140"},
		VideoFormat: &types.Format{FormatID: "137"},
	}
}

func newTestQueue(t *testing.T, invoker Invoker) (DownloadQueue, *recorder) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	return NewDownloadQueue(ctx, invoker, zap.NewNop(), rec), rec
}

func progressLine(line string) types.Event {
	return types.ProgressEvent{Output: line}
}

func TestSubmitDispatchesHeadOnly(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	first, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	second, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=second"))
	require.NoError(t, err)

	invocation := invoker.next(t)
	assert.Equal(t, first.ID, invocation.RootID)
	assert.Equal(t, "140", invocation.AudioFormatID)
	assert.Equal(t, "137", invocation.VideoFormatID)

	active, ok := queue.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active)
	assert.Equal(t, []string{second.ID}, queue.Pending())

	assert.True(t, first.Ongoing)
	assert.Equal(t, types.ItemStatusRunning, first.Status)
	assert.False(t, second.Ongoing)
	assert.Equal(t, types.ItemStatusIdle, second.Status)
	require.Len(t, first.Children, 2)
	assert.Equal(t, "audio", first.Children[0].ID)
	assert.Equal(t, "video", first.Children[1].ID)
}

func TestFullDownloadLifecycle(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, rec := newTestQueue(t, invoker)

	first, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	second, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=second"))
	require.NoError(t, err)
	invoker.next(t)

	require.NoError(t, queue.Deliver(first.ID, types.StartedEvent{}))
	require.NoError(t, queue.Deliver(first.ID, progressLine("[download]  42.5% of 3.20MiB at 1.25MiB/s ETA 00:02")))

	item, ok := queue.GetItem(first.ID)
	require.True(t, ok)
	assert.Equal(t, float64(21), item.Progress())
	require.NotNil(t, item.Get("audio").Speed)
	assert.Equal(t, 1.25, item.Get("audio").Speed.Rate)

	require.NoError(t, queue.Deliver(first.ID, progressLine("[download] 100.0% of 3.20MiB at 2.50MiB/s ETA 00:00")))
	require.NoError(t, queue.Deliver(first.ID, progressLine("[download] 100% of 3.20MiB")))
	require.NoError(t, queue.Deliver(first.ID, progressLine("[download]  10.0% of 9.00MiB at 4.00MiB/s ETA 00:02")))

	item, _ = queue.GetItem(first.ID)
	assert.Equal(t, float64(100), item.Get("audio").Progress())
	assert.Equal(t, 2.5, item.Get("audio").Speed.Rate, "speed belongs to the leaf the sample completed")
	assert.Equal(t, float64(10), item.Get("video").Progress())
	assert.Equal(t, float64(55), item.Progress())

	require.NoError(t, queue.Deliver(first.ID, types.FinishedEvent{}))

	item, _ = queue.GetItem(first.ID)
	assert.Equal(t, types.ItemStatusFinished, item.Status)
	assert.False(t, item.Ongoing)
	assert.Nil(t, item.Get("audio").Speed)
	assert.Nil(t, item.Get("video").Speed)

	invocation := invoker.next(t)
	assert.Equal(t, second.ID, invocation.RootID)
	active, _ := queue.Active()
	assert.Equal(t, second.ID, active)
	assert.Empty(t, queue.Pending())

	assert.NotEmpty(t, rec.snapshots())
}

func TestErrorEventAdvancesQueue(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	first, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	second, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=second"))
	require.NoError(t, err)
	invoker.next(t)

	require.NoError(t, queue.Deliver(first.ID, progressLine("[download]  30.0%")))
	require.NoError(t, queue.Deliver(first.ID, types.ErrorEvent{Message: "m", Help: "h"}))

	err = queue.Deliver(first.ID, progressLine("[download]  90.0%"))
	assert.True(t, types.IsDownloadError(err, types.ErrorNotActive))

	item, _ := queue.GetItem(first.ID)
	assert.Equal(t, types.ItemStatusErrored, item.Status)
	assert.False(t, item.Ongoing)
	require.NotNil(t, item.Error)
	assert.Equal(t, types.Failure{Message: "m", Help: "h"}, *item.Error)
	assert.Equal(t, float64(30), item.Get("audio").Progress())

	assert.Equal(t, second.ID, invoker.next(t).RootID)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, rec := newTestQueue(t, invoker)

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	invoker.next(t)

	before, _ := queue.GetItem(root.ID)
	require.NoError(t, queue.Deliver(root.ID, progressLine("[download]  50.0%")))
	after, _ := queue.GetItem(root.ID)

	assert.Equal(t, float64(0), before.Progress())
	assert.Equal(t, float64(25), after.Progress())
	assert.NotSame(t, before, after)

	for _, snapshot := range rec.snapshots() {
		if snapshot.Progress() == 0 {
			continue
		}
		assert.Equal(t, float64(25), snapshot.Progress())
	}
}

func TestDeliverUnknownItem(t *testing.T) {
	queue, _ := newTestQueue(t, newBlockingInvoker())

	err := queue.Deliver("missing", types.StartedEvent{})
	assert.True(t, types.IsDownloadError(err, types.ErrorNotFound))
}

func TestDeliverToPendingItem(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	_, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	second, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=second"))
	require.NoError(t, err)

	err = queue.Deliver(second.ID, progressLine("[download]  50.0%"))
	assert.True(t, types.IsDownloadError(err, types.ErrorNotActive))
}

func TestSubmitInvalidRequest(t *testing.T) {
	queue, rec := newTestQueue(t, newBlockingInvoker())

	item, err := queue.Submit(types.DownloadRequest{URL: "not a url"})
	assert.Nil(t, item)
	assert.True(t, types.IsDownloadError(err, types.ErrorInvalidRequest))
	assert.Empty(t, queue.GetAllItems())
	assert.Empty(t, rec.snapshots())
}

func TestDuplicateAndRedownload(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)
	request := testRequest("https://www.youtube.com/watch?v=first")

	first, err := queue.Submit(request)
	require.NoError(t, err)
	invoker.next(t)
	require.NoError(t, queue.Deliver(first.ID, types.FinishedEvent{}))

	duplicate, err := queue.Submit(request)
	require.Error(t, err)
	assert.True(t, types.IsDownloadError(err, types.ErrorAlreadyDownloaded))
	require.NotNil(t, duplicate)
	assert.NotEqual(t, first.ID, duplicate.ID)
	assert.Equal(t, types.ItemStatusErrored, duplicate.Status)
	require.NotNil(t, duplicate.Error)
	assert.NotEmpty(t, duplicate.Error.Help)

	_, active := queue.Active()
	assert.False(t, active)

	again, err := queue.Redownload(duplicate.ID)
	require.NoError(t, err)
	assert.NotEqual(t, duplicate.ID, again.ID)
	assert.Equal(t, again.ID, invoker.next(t).RootID)
	assert.Equal(t, request.URL, again.Params.URL)

	items := queue.GetAllItems()
	require.Len(t, items, 3)
	assert.Equal(t, []string{first.ID, duplicate.ID, again.ID}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestFailedDownloadIsNotDuplicate(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)
	request := testRequest("https://www.youtube.com/watch?v=first")

	first, err := queue.Submit(request)
	require.NoError(t, err)
	invoker.next(t)
	require.NoError(t, queue.Deliver(first.ID, types.ErrorEvent{Message: "m"}))

	_, err = queue.Submit(request)
	assert.NoError(t, err)
}

func TestRedownloadErrors(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	_, err := queue.Redownload("missing")
	assert.True(t, types.IsDownloadError(err, types.ErrorNotFound))

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)

	_, err = queue.Redownload(root.ID)
	assert.True(t, types.IsDownloadError(err, types.ErrorInvalidRequest))
}

func TestInvokerErrorRecordsFailure(t *testing.T) {
	queue, _ := newTestQueue(t, failingInvoker{
		err: errors.New("ERROR: [youtube] abc: Requested format is not available. Use --list-formats"),
	})

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	second, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=second"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		item, _ := queue.GetItem(second.ID)
		return item.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	item, _ := queue.GetItem(root.ID)
	assert.Equal(t, types.ItemStatusErrored, item.Status)
	assert.Equal(t, "Requested format is not available.", item.Error.Message)
	assert.NotEmpty(t, item.Error.Help)
}

func TestInvokerErrorLogsFailureType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zap.ErrorLevel)
	queue := NewDownloadQueue(ctx, failingInvoker{
		err: errors.New("ERROR: [youtube] abc: Sign in to confirm you're not a bot. Use --cookies"),
	}, zap.New(core))

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		item, _ := queue.GetItem(root.ID)
		return item.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	entries := logs.FilterMessage("download process failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, types.ErrorBotCheck.String(), entries[0].ContextMap()["type"])
	assert.Equal(t, root.ID, entries[0].ContextMap()["id"])
}

func TestInvokerExitWithoutTerminalEvent(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	invoker.next(t)
	close(invoker.release)

	require.Eventually(t, func() bool {
		item, _ := queue.GetItem(root.ID)
		return item.Status == types.ItemStatusErrored
	}, 2*time.Second, 10*time.Millisecond)

	_, active := queue.Active()
	assert.False(t, active)
}

func TestSingleStreamRequests(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	size := int64(2048)
	audioOnly, err := queue.Submit(types.DownloadRequest{
		URL:         "https://www.youtube.com/watch?v=audio",
		OutputDir:   "/downloads",
		AudioFormat: &types.Format{FormatID: "140", FileSize: &size},
	})
	require.NoError(t, err)
	require.Len(t, audioOnly.Children, 1)
	assert.Equal(t, "audio", audioOnly.Children[0].ID)
	assert.Equal(t, "2.0 KiB", audioOnly.Children[0].Size)
	assert.Equal(t, "https://www.youtube.com/watch?v=audio", audioOnly.Label)

	invoker.next(t)
	require.NoError(t, queue.Deliver(audioOnly.ID, progressLine("[download] 100.0%")))
	item, _ := queue.GetItem(audioOnly.ID)
	assert.True(t, item.Done())
	assert.Equal(t, types.ItemStatusRunning, item.Status, "numeric completion does not end the download")
}

func TestObserverFunc(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)

	var seen []string
	queue.Subscribe(ObserverFunc(func(item *types.Item) {
		seen = append(seen, string(item.Status))
	}))

	_, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	assert.Equal(t, []string{"idle", "running"}, seen)
}

func TestDispatchIdlesWithoutParameters(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, _ := newTestQueue(t, invoker)
	q := queue.(*downloadQueue)

	orphan := newTree(testRequest("https://www.youtube.com/watch?v=orphan"))
	q.mu.Lock()
	q.pending = append(q.pending, orphan)
	q.dispatchNext()
	q.mu.Unlock()

	_, active := queue.Active()
	assert.False(t, active)
	assert.Equal(t, []string{orphan.ID}, queue.Pending())
	assert.False(t, orphan.Ongoing)

	select {
	case invocation := <-invoker.started:
		t.Fatalf("unexpected dispatch of %s", invocation.RootID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishedRevisionsIncrease(t *testing.T) {
	invoker := newBlockingInvoker()
	queue, rec := newTestQueue(t, invoker)

	root, err := queue.Submit(testRequest("https://www.youtube.com/watch?v=first"))
	require.NoError(t, err)
	invoker.next(t)
	require.NoError(t, queue.Deliver(root.ID, progressLine("[download]  50.0%")))

	var last uint64
	for _, snapshot := range rec.snapshots() {
		assert.Greater(t, snapshot.Revision, last)
		last = snapshot.Revision
	}
	current, _ := queue.GetItem(root.ID)
	assert.Equal(t, last, current.Revision)
}
