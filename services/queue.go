package services

import (
	"context"
	"sync"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	audioChildID = "audio"
	videoChildID = "video"
)

// downloadQueue owns the working trees. Everything outside the queue only ever sees
// the snapshots stored in the registry, which are never mutated after publication.
type downloadQueue struct {
	mu        sync.RWMutex
	ctx       context.Context
	pending   []*types.Item
	params    map[string]types.DownloadRequest
	registry  map[string]*types.Item
	order     []string
	finished  map[string]string
	active    *types.Item
	revision  uint64
	stop      context.CancelFunc
	invoker   Invoker
	observers []Observer
	logger    *zap.Logger
}

// NewDownloadQueue creates a queue that hands each dispatched root to invoker. ctx
// bounds every invocation; each invocation's own context is also cancelled once its
// root finishes or fails.
func NewDownloadQueue(ctx context.Context, invoker Invoker, logger *zap.Logger, observers ...Observer) DownloadQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &downloadQueue{
		ctx:       ctx,
		params:    make(map[string]types.DownloadRequest),
		registry:  make(map[string]*types.Item),
		finished:  make(map[string]string),
		invoker:   invoker,
		observers: observers,
		logger:    logger.Named("queue"),
	}
}

// Subscribe adds an observer for snapshots published from now on
func (q *downloadQueue) Subscribe(observer Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, observer)
}

// Submit builds a tree for request and enqueues it. A request identical to one that
// already finished is recorded as errored and rejected with ErrorAlreadyDownloaded.
func (q *downloadQueue) Submit(request types.DownloadRequest) (*types.Item, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.finished[request.Fingerprint()]; ok {
		root := newTree(request)
		root.Status = types.ItemStatusErrored
		root.Error = &types.Failure{
			Message: "This video has already been downloaded with the selected formats.",
			Help:    "Use re-download to fetch it again.",
		}
		q.track(root)
		snapshot := q.publish(root)

		q.logger.Info("rejected duplicate download",
			zap.String("id", root.ID),
			zap.String("existing", existing),
			zap.String("url", request.URL))

		return snapshot, types.NewDownloadError(types.ErrorAlreadyDownloaded, "already downloaded").
			WithContext("id", existing)
	}

	return q.enqueue(request), nil
}

// Redownload enqueues a fresh root built from the parameters stored for id. The old
// item stays in the registry untouched.
func (q *downloadQueue) Redownload(id string) (*types.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	request, ok := q.params[id]
	if !ok {
		return nil, types.NewDownloadError(types.ErrorNotFound, "download not found").WithContext("id", id)
	}

	if snapshot := q.registry[id]; snapshot != nil && !snapshot.Terminal() {
		return nil, types.NewDownloadError(types.ErrorInvalidRequest, "download is still in progress").
			WithContext("id", id)
	}

	q.logger.Info("redownloading", zap.String("previous", id), zap.String("url", request.URL))
	return q.enqueue(request), nil
}

// GetItem returns the latest snapshot of the root with the given id
func (q *downloadQueue) GetItem(id string) (*types.Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, exists := q.registry[id]
	return item, exists
}

// GetAllItems returns the latest snapshots in submission order
func (q *downloadQueue) GetAllItems() []*types.Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*types.Item, 0, len(q.order))
	for _, id := range q.order {
		items = append(items, q.registry[id])
	}
	return items
}

// Pending returns the ids waiting for dispatch, head first
func (q *downloadQueue) Pending() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, 0, len(q.pending))
	for _, item := range q.pending {
		ids = append(ids, item.ID)
	}
	return ids
}

// Active returns the id of the root currently downloading
func (q *downloadQueue) Active() (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.active == nil {
		return "", false
	}
	return q.active.ID, true
}

// Deliver routes an event to the root with the given id. Only the active root
// accepts events.
func (q *downloadQueue) Deliver(id string, event types.Event) error {
	return q.handle(id, event)
}

func (q *downloadQueue) enqueue(request types.DownloadRequest) *types.Item {
	root := newTree(request)
	q.params[root.ID] = request
	q.pending = append(q.pending, root)
	q.track(root)
	snapshot := q.publish(root)

	q.logger.Info("queued download",
		zap.String("id", root.ID),
		zap.String("url", request.URL),
		zap.Int("pending", len(q.pending)))

	q.dispatchNext()
	if latest := q.registry[root.ID]; latest != nil {
		return latest
	}
	return snapshot
}

func (q *downloadQueue) track(root *types.Item) {
	q.order = append(q.order, root.ID)
	if _, ok := q.params[root.ID]; !ok && root.Params != nil {
		q.params[root.ID] = *root.Params
	}
}

// dispatchNext starts the head of the queue if nothing is active. Must be called
// with the lock held.
func (q *downloadQueue) dispatchNext() {
	if q.active != nil || len(q.pending) == 0 {
		return
	}

	root := q.pending[0]
	request, ok := q.params[root.ID]
	if !ok {
		q.logger.Error("no parameters stored for queued download, queue is idle", zap.String("id", root.ID))
		return
	}
	q.pending = q.pending[1:]

	root.Ongoing = true
	root.Status = types.ItemStatusRunning
	q.active = root
	q.publish(root)

	q.logger.Info("dispatching download", zap.String("id", root.ID), zap.String("url", request.URL))

	// The invocation context ends as soon as the root reaches a terminal state.
	ctx, stop := context.WithCancel(q.ctx)
	q.stop = stop

	invocation := types.NewInvocation(root.ID, request)
	sink := &rootSink{queue: q, rootID: root.ID}
	go q.run(ctx, invocation, sink)
}

func (q *downloadQueue) run(ctx context.Context, invocation types.Invocation, sink *rootSink) {
	err := q.invoker.Download(ctx, invocation, sink)
	if ctx.Err() != nil && q.ctx.Err() == nil {
		q.logger.Debug("download process stopped", zap.String("id", invocation.RootID))
		return
	}

	var failure types.Failure
	if err != nil {
		q.logger.Error("download process failed",
			zap.String("id", invocation.RootID),
			zap.Stringer("type", FailureType(err.Error())),
			zap.Error(err))
		failure = ClassifyFailure(err.Error())
	} else {
		q.logger.Debug("download process exited", zap.String("id", invocation.RootID))
		failure = types.Failure{Message: "The download process exited without reporting completion."}
	}

	// The process may have ended without a terminal event; make sure the queue moves on.
	if sendErr := sink.Send(types.ErrorEvent{Message: failure.Message, Help: failure.Help}); sendErr == nil {
		q.logger.Warn("download ended without a terminal event", zap.String("id", invocation.RootID))
	}
}

func (q *downloadQueue) handle(id string, event types.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil || q.active.ID != id {
		if _, known := q.registry[id]; !known {
			return types.NewDownloadError(types.ErrorNotFound, "download not found").WithContext("id", id)
		}
		q.logger.Debug("ignoring event for inactive download",
			zap.String("id", id),
			zap.String("event", string(event.Kind())))
		return types.NewDownloadError(types.ErrorNotActive, "download is not active").WithContext("id", id)
	}

	root := q.active
	terminal, err := applyEvent(root, event)
	if err != nil {
		q.logger.Warn("rejected event",
			zap.String("id", id),
			zap.String("event", string(event.Kind())),
			zap.Error(err))
		return err
	}

	q.publish(root)

	if !terminal {
		return nil
	}

	switch root.Status {
	case types.ItemStatusFinished:
		if root.Params != nil {
			q.finished[root.Params.Fingerprint()] = root.ID
		}
		q.logger.Info("download finished", zap.String("id", id))
	case types.ItemStatusErrored:
		q.logger.Warn("download failed", zap.String("id", id), zap.String("message", root.Error.Message))
	}

	q.active = nil
	if q.stop != nil {
		q.stop()
		q.stop = nil
	}
	q.dispatchNext()
	return nil
}

// publish stores a snapshot of root and hands it to the observers. Must be called
// with the lock held.
func (q *downloadQueue) publish(root *types.Item) *types.Item {
	q.revision++
	snapshot := root.Clone()
	snapshot.Revision = q.revision
	q.registry[root.ID] = snapshot
	for _, observer := range q.observers {
		observer.ItemUpdated(snapshot)
	}
	return snapshot
}

// rootSink binds one dispatched root to the queue
type rootSink struct {
	queue  *downloadQueue
	rootID string
}

func (s *rootSink) Send(event types.Event) error {
	return s.queue.handle(s.rootID, event)
}

func newTree(request types.DownloadRequest) *types.Item {
	audio := types.NewDownloadItem[types.DownloadRequest, types.Failure](audioChildID, "Audio")
	audio.Size = sizeLabel(request.AudioFormat)
	video := types.NewDownloadItem[types.DownloadRequest, types.Failure](videoChildID, "Video")
	video.Size = sizeLabel(request.VideoFormat)

	var children []*types.Item
	switch {
	case request.AudioFormat != nil && request.VideoFormat == nil:
		children = []*types.Item{audio}
	case request.AudioFormat == nil && request.VideoFormat != nil:
		children = []*types.Item{video}
	default:
		children = []*types.Item{audio, video}
	}

	root := types.NewDownloadItem(uuid.New().String(), request.Label(), children...)
	params := request
	root.Params = &params
	return root
}

func sizeLabel(format *types.Format) string {
	switch {
	case format == nil:
		return ""
	case format.FileSizeLabel != "":
		return format.FileSizeLabel
	case format.FileSize != nil:
		return humanize.IBytes(uint64(*format.FileSize))
	default:
		return ""
	}
}
