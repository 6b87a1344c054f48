package services

import (
	"context"

	"github.com/bbqjohan/yt-downloader/types"
)

// EventSink receives the events of exactly one dispatched root
type EventSink interface {
	Send(event types.Event) error
}

// Invoker is the boundary that runs the external download tool. Download blocks until
// the external process exits; all progress flows through sink, and the returned error
// is only logged.
type Invoker interface {
	Download(ctx context.Context, invocation types.Invocation, sink EventSink) error
}

// Observer is told about every new snapshot in the registry. Observers are called
// with the queue locked and must not call back into it.
type Observer interface {
	ItemUpdated(item *types.Item)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(item *types.Item)

// ItemUpdated calls f(item)
func (f ObserverFunc) ItemUpdated(item *types.Item) {
	f(item)
}

// DownloadQueue sequences download requests, one active download at a time
type DownloadQueue interface {
	Submit(request types.DownloadRequest) (*types.Item, error)
	Redownload(id string) (*types.Item, error)
	GetItem(id string) (*types.Item, bool)
	GetAllItems() []*types.Item
	Pending() []string
	Active() (string, bool)
	Deliver(id string, event types.Event) error
	Subscribe(observer Observer)
}
