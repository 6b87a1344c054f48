package types

import "time"

// ProgressMessage represents a WebSocket update for one download item
type ProgressMessage struct {
	ItemID    string    `json:"itemId"`
	Type      string    `json:"type"`              // "status", "progress", "complete", "error"
	Progress  float64   `json:"progress"`          // 0-100 percentage of the root
	Status    string    `json:"status"`            // current item status
	Current   string    `json:"current,omitempty"` // label of the stream being downloaded
	Speed     string    `json:"speed,omitempty"`   // rate like "2.1MiB/s"
	Message   string    `json:"message,omitempty"`
	Help      string    `json:"help,omitempty"`
	Item      *Item     `json:"item,omitempty"` // full snapshot of the tree
	Revision  uint64    `json:"revision"`       // orders snapshots of the same item
	Timestamp time.Time `json:"timestamp"`
}
