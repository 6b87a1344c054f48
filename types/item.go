package types

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/bbqjohan/yt-downloader/progress"
)

// ItemStatus is the lifecycle state of a download item
type ItemStatus string

const (
	ItemStatusIdle     ItemStatus = "idle"
	ItemStatusRunning  ItemStatus = "running"
	ItemStatusFinished ItemStatus = "finished"
	ItemStatusErrored  ItemStatus = "errored"
)

// IsTerminal returns true once the item can no longer change
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusFinished || s == ItemStatusErrored
}

// DownloadItem is one node of a download tree. P is the request payload kept on
// the root for resubmission and E the payload describing a terminal failure.
//
// Leaves receive progress directly. A node with children never has its progress set
// from outside: Progress() derives it from the children and Percent only caches the
// last computed value.
type DownloadItem[P any, E any] struct {
	ID       string                `json:"id"`
	Label    string                `json:"label"`
	Size     string                `json:"size,omitempty"`
	Status   ItemStatus            `json:"status"`
	Percent  float64               `json:"-"`
	Speed    *progress.Speed       `json:"speed,omitempty"`
	Children []*DownloadItem[P, E] `json:"children,omitempty"`
	Ongoing  bool                  `json:"ongoing"`
	Revision uint64                `json:"revision,omitempty"`
	Params   *P                    `json:"params,omitempty"`
	Error    *E                    `json:"error,omitempty"`
}

// NewDownloadItem creates an idle item owning the given children in processing order
func NewDownloadItem[P any, E any](id, label string, children ...*DownloadItem[P, E]) *DownloadItem[P, E] {
	return &DownloadItem[P, E]{
		ID:       id,
		Label:    label,
		Status:   ItemStatusIdle,
		Children: children,
	}
}

// Progress returns the stored value for a leaf and the floored unweighted average
// of the children otherwise.
func (i *DownloadItem[P, E]) Progress() float64 {
	if len(i.Children) == 0 {
		return i.Percent
	}

	var sum float64
	for _, child := range i.Children {
		sum += child.Progress()
	}
	return math.Floor(sum / float64(len(i.Children)))
}

// SetProgress stores value clamped to 100. Lower values than the current one are
// accepted as is.
func (i *DownloadItem[P, E]) SetProgress(value float64) error {
	if err := validateProgress(value); err != nil {
		return err
	}
	i.Percent = math.Min(value, 100)
	return nil
}

// UpdateProgress routes value to the first unfinished child and refreshes the cached
// aggregate. It is a no-op once the item is done or terminal, so a stray sample can
// never reopen a finished branch.
func (i *DownloadItem[P, E]) UpdateProgress(value float64) error {
	if err := validateProgress(value); err != nil {
		return err
	}

	if i.Done() || i.Terminal() {
		return nil
	}

	if len(i.Children) == 0 {
		return i.SetProgress(value)
	}

	if err := i.Current().UpdateProgress(value); err != nil {
		return err
	}
	i.Percent = i.Progress()
	return nil
}

// Done reports whether progress reached 100
func (i *DownloadItem[P, E]) Done() bool {
	return i.Progress() >= 100
}

// Terminal reports whether the item finished or failed
func (i *DownloadItem[P, E]) Terminal() bool {
	return i.Status.IsTerminal() || i.Error != nil
}

// Current returns the first child that is not done, or the item itself when it has
// no children or all of them are done.
func (i *DownloadItem[P, E]) Current() *DownloadItem[P, E] {
	for _, child := range i.Children {
		if !child.Done() {
			return child
		}
	}
	return i
}

// CurrentLeaf follows Current down to the node that receives raw samples
func (i *DownloadItem[P, E]) CurrentLeaf() *DownloadItem[P, E] {
	node := i
	for {
		next := node.Current()
		if next == node {
			return node
		}
		node = next
	}
}

// Get returns the first node, depth first, whose id matches
func (i *DownloadItem[P, E]) Get(id string) *DownloadItem[P, E] {
	if i.ID == id {
		return i
	}
	for _, child := range i.Children {
		if found := child.Get(id); found != nil {
			return found
		}
	}
	return nil
}

// ParentOf looks up the node owning the child with the given id. Nodes keep no
// back-references.
func (i *DownloadItem[P, E]) ParentOf(id string) *DownloadItem[P, E] {
	for _, child := range i.Children {
		if child.ID == id {
			return i
		}
		if parent := child.ParentOf(id); parent != nil {
			return parent
		}
	}
	return nil
}

// Walk visits the item and its descendants depth first
func (i *DownloadItem[P, E]) Walk(fn func(*DownloadItem[P, E])) {
	fn(i)
	for _, child := range i.Children {
		child.Walk(fn)
	}
}

// ClearSpeed forgets the last rate on the whole tree
func (i *DownloadItem[P, E]) ClearSpeed() {
	i.Walk(func(node *DownloadItem[P, E]) {
		node.Speed = nil
	})
}

// Clone returns a deep copy of the tree. Params are copied by value, or through
// their own Clone method when they have one.
func (i *DownloadItem[P, E]) Clone() *DownloadItem[P, E] {
	clone := *i

	if i.Speed != nil {
		speed := *i.Speed
		clone.Speed = &speed
	}
	if i.Params != nil {
		params := *i.Params
		if cloner, ok := any(params).(interface{ Clone() P }); ok {
			params = cloner.Clone()
		}
		clone.Params = &params
	}
	if i.Error != nil {
		failure := *i.Error
		clone.Error = &failure
	}

	if i.Children != nil {
		clone.Children = make([]*DownloadItem[P, E], len(i.Children))
		for idx, child := range i.Children {
			clone.Children[idx] = child.Clone()
		}
	}

	return &clone
}

type downloadItemFields[P any, E any] DownloadItem[P, E]

// MarshalJSON adds the derived progress and done fields
func (i *DownloadItem[P, E]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		*downloadItemFields[P, E]
		Progress float64 `json:"progress"`
		Done     bool    `json:"done"`
	}{
		downloadItemFields: (*downloadItemFields[P, E])(i),
		Progress:           i.Progress(),
		Done:               i.Done(),
	})
}

func validateProgress(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewDownloadError(ErrorInvalidProgress, "progress must be a finite number").
			WithContext("value", fmt.Sprint(value))
	}
	return nil
}
