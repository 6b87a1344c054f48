package types

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Format describes one encoding offered by the external tool for a video
type Format struct {
	FormatID      string   `json:"format_id"`
	Ext           string   `json:"ext"`
	AudioExt      string   `json:"audio_ext,omitempty"`
	VideoExt      string   `json:"video_ext,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	VCodec        string   `json:"vcodec,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	ABR           *float64 `json:"abr,omitempty"`
	VBR           *float64 `json:"vbr,omitempty"`
	FPS           *float64 `json:"fps,omitempty"`
	FileSize      *int64   `json:"filesize,omitempty"`
	FileSizeLabel string   `json:"filesize_label,omitempty"`
}

// DownloadRequest is everything a user submits for one download. It is stored on
// the root item so the download can be resubmitted as is.
type DownloadRequest struct {
	URL         string  `json:"url"`
	OutputDir   string  `json:"outputDir"`
	VideoTitle  string  `json:"videoTitle,omitempty"`
	AudioFormat *Format `json:"audioFormat,omitempty"`
	VideoFormat *Format `json:"videoFormat,omitempty"`
}

// Clone copies the request together with its selected formats
func (r DownloadRequest) Clone() DownloadRequest {
	r.AudioFormat = r.AudioFormat.clone()
	r.VideoFormat = r.VideoFormat.clone()
	return r
}

func (f *Format) clone() *Format {
	if f == nil {
		return nil
	}
	format := *f
	format.ABR = copyOf(f.ABR)
	format.VBR = copyOf(f.VBR)
	format.FPS = copyOf(f.FPS)
	format.FileSize = copyOf(f.FileSize)
	return &format
}

func copyOf[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// Validate checks the fields the engine cannot work without
func (r DownloadRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return NewDownloadError(ErrorInvalidRequest, "url is required")
	}

	parsed, err := url.Parse(r.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return NewDownloadErrorWithCause(ErrorInvalidRequest, "url must be absolute", err).
			WithContext("url", r.URL)
	}

	if strings.TrimSpace(r.OutputDir) == "" {
		return NewDownloadError(ErrorInvalidRequest, "output directory is required")
	}

	return nil
}

// AudioFormatID returns the selected audio format id, if any
func (r DownloadRequest) AudioFormatID() string {
	if r.AudioFormat == nil {
		return ""
	}
	return r.AudioFormat.FormatID
}

// VideoFormatID returns the selected video format id, if any
func (r DownloadRequest) VideoFormatID() string {
	if r.VideoFormat == nil {
		return ""
	}
	return r.VideoFormat.FormatID
}

// Label returns the title, falling back to the URL
func (r DownloadRequest) Label() string {
	if r.VideoTitle != "" {
		return r.VideoTitle
	}
	return r.URL
}

// Fingerprint identifies the logical request: same url, formats and destination
func (r DownloadRequest) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		r.URL,
		r.AudioFormatID(),
		r.VideoFormatID(),
		r.OutputDir,
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Failure is the payload recorded on an item that ended with an error
type Failure struct {
	Message string `json:"message"`
	Help    string `json:"help,omitempty"`
}

// Item is the download tree used throughout the application
type Item = DownloadItem[DownloadRequest, Failure]

// Invocation is what the external download boundary receives for one root
type Invocation struct {
	RootID        string `json:"rootId"`
	URL           string `json:"url"`
	OutputDir     string `json:"outputDir"`
	AudioFormatID string `json:"audioFormatId,omitempty"`
	VideoFormatID string `json:"videoFormatId,omitempty"`
	VideoTitle    string `json:"videoTitle,omitempty"`
}

// NewInvocation flattens a request for the root with the given id
func NewInvocation(rootID string, r DownloadRequest) Invocation {
	return Invocation{
		RootID:        rootID,
		URL:           r.URL,
		OutputDir:     r.OutputDir,
		AudioFormatID: r.AudioFormatID(),
		VideoFormatID: r.VideoFormatID(),
		VideoTitle:    r.VideoTitle,
	}
}
