package services

import (
	"fmt"

	"github.com/bbqjohan/yt-downloader/progress"
	"github.com/bbqjohan/yt-downloader/types"
)

// applyEvent folds one boundary event into the working tree of the active root. It
// reports whether the root reached a terminal state.
//
// Numeric progress is display only. The finished and error events are the only
// signals that end a download.
func applyEvent(root *types.Item, event types.Event) (bool, error) {
	switch e := event.(type) {
	case types.StartedEvent:
		return false, nil

	case types.ProgressEvent:
		return false, applyProgress(root, e.Output)

	case types.FinishedEvent:
		root.Ongoing = false
		root.ClearSpeed()
		root.Status = types.ItemStatusFinished
		return true, nil

	case types.ErrorEvent:
		failure := e.Failure()
		root.Error = &failure
		root.Status = types.ItemStatusErrored
		root.Ongoing = false
		root.ClearSpeed()
		return true, nil

	default:
		return false, types.NewDownloadError(types.ErrorInvalidRequest, fmt.Sprintf("unsupported event %T", event))
	}
}

func applyProgress(root *types.Item, output string) error {
	sample := progress.Decode(output)
	if sample.Empty() {
		return nil
	}

	// The speed belongs to the leaf the sample describes, which can change once the
	// update below completes it.
	leaf := root.CurrentLeaf()

	if sample.HasPercentage() && !sample.Terminal() {
		value, err := sample.Value()
		if err != nil {
			return nil
		}
		if err := root.UpdateProgress(value); err != nil {
			return err
		}
	}

	if sample.Speed != nil {
		speed := *sample.Speed
		leaf.Speed = &speed
	}
	return nil
}
