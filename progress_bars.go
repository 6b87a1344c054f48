package main

import (
	"context"
	"io"
	"sync"

	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/types"
	"github.com/schollz/progressbar/v3"
)

// progressBars renders one terminal bar per root as it is dispatched
type progressBars struct {
	mu      sync.Mutex
	out     io.Writer
	bars    map[string]*progressbar.ProgressBar
	ended   map[string]bool
	updated chan struct{}
}

func newProgressBars(out io.Writer) *progressBars {
	return &progressBars{
		out:     out,
		bars:    make(map[string]*progressbar.ProgressBar),
		ended:   make(map[string]bool),
		updated: make(chan struct{}, 1),
	}
}

// ItemUpdated is called by the queue with its lock held
func (p *progressBars) ItemUpdated(item *types.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		select {
		case p.updated <- struct{}{}:
		default:
		}
	}()

	if p.ended[item.ID] {
		return
	}

	bar, ok := p.bars[item.ID]
	if !ok {
		if !item.Ongoing && !item.Terminal() {
			return
		}
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(item.Label),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(30),
		)
		p.bars[item.ID] = bar
	}

	description := item.Label
	if leaf := item.CurrentLeaf(); leaf.Speed != nil && !item.Terminal() {
		description += " " + leaf.Speed.String()
	}
	bar.Describe(description)
	_ = bar.Set(int(item.Progress()))

	switch item.Status {
	case types.ItemStatusFinished:
		_ = bar.Finish()
	case types.ItemStatusErrored:
		_ = bar.Exit()
	default:
		return
	}
	p.ended[item.ID] = true
	delete(p.bars, item.ID)
}

// Wait blocks until every tracked item is terminal or ctx is done
func (p *progressBars) Wait(ctx context.Context, queue services.DownloadQueue) error {
	for {
		if allTerminal(queue.GetAllItems()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.updated:
		}
	}
}

func allTerminal(items []*types.Item) bool {
	for _, item := range items {
		if !item.Terminal() {
			return false
		}
	}
	return true
}
