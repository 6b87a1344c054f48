package services

import (
	"strconv"
	"strings"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/dustin/go-humanize"
)

const (
	resolutionAudioOnly = "audio only"
	extNone             = "none"
	extMhtml            = "mhtml"
	protocolM3U8        = "m3u8"

	// ProgressTemplate makes the external tool print one parsable line per sample
	ProgressTemplate = "download:[download] %(progress._percent_str)s of %(progress._total_bytes_str)s at %(progress._speed_str)s ETA %(progress._eta_str)s"

	// OutputTemplate names downloaded files after the video title
	OutputTemplate = "%(title)s.%(ext)s"
)

func selector(name, operator, value string) string {
	return "[" + name + operator + value + "]"
}

func directDownload() string {
	return selector("protocol", "^=", "http")
}

func buildSelector(kind, quality, language string, preferDirect, forceNoFragments bool) (string, error) {
	if quality == "" {
		return "", types.NewDownloadError(types.ErrorInvalidRequest, kind+" quality must be set")
	}

	var b strings.Builder
	b.WriteString("(")
	b.WriteString(quality)
	if language != "" {
		b.WriteString(selector("language", "=", language))
	}
	if forceNoFragments || preferDirect {
		b.WriteString(directDownload())
	}
	if preferDirect && !forceNoFragments {
		b.WriteString("/")
		b.WriteString(quality)
	}
	b.WriteString(")")
	return b.String(), nil
}

// AudioArgs selects the audio stream
type AudioArgs struct {
	Quality              string
	Language             string
	PreferDirectDownload bool
	ForceNoFragments     bool
}

// NewAudioArgs returns audio arguments preferring direct downloads
func NewAudioArgs(quality string) AudioArgs {
	return AudioArgs{Quality: quality, PreferDirectDownload: true}
}

// Build renders the audio half of the format selector
func (a AudioArgs) Build() (string, error) {
	return buildSelector("audio", a.Quality, a.Language, a.PreferDirectDownload, a.ForceNoFragments)
}

// VideoArgs selects the video stream
type VideoArgs struct {
	Quality              string
	PreferDirectDownload bool
	ForceNoFragments     bool
}

// NewVideoArgs returns video arguments preferring direct downloads
func NewVideoArgs(quality string) VideoArgs {
	return VideoArgs{Quality: quality, PreferDirectDownload: true}
}

// Build renders the video half of the format selector
func (v VideoArgs) Build() (string, error) {
	return buildSelector("video", v.Quality, "", v.PreferDirectDownload, v.ForceNoFragments)
}

// FormatArgs combines the selected stream selectors with the fragment thread
// count. A nil half is left out of the selector.
type FormatArgs struct {
	Audio           *AudioArgs
	Video           *VideoArgs
	FragmentThreads int
}

// Selector returns "<audio>+<video>", or the single selector that is set
func (f FormatArgs) Selector() (string, error) {
	var parts []string
	if f.Audio != nil {
		audio, err := f.Audio.Build()
		if err != nil {
			return "", err
		}
		parts = append(parts, audio)
	}
	if f.Video != nil {
		video, err := f.Video.Build()
		if err != nil {
			return "", err
		}
		parts = append(parts, video)
	}
	if len(parts) == 0 {
		return "", types.NewDownloadError(types.ErrorInvalidRequest, "no stream selected")
	}
	return strings.Join(parts, "+"), nil
}

// Args returns the "-f <selector> -N <threads>" pair
func (f FormatArgs) Args() ([]string, error) {
	formats, err := f.Selector()
	if err != nil {
		return nil, err
	}
	return []string{"-f", formats, "-N", strconv.Itoa(f.FragmentThreads)}, nil
}

// Build returns "<selector> -N <threads>"
func (f FormatArgs) Build() (string, error) {
	args, err := f.Args()
	if err != nil {
		return "", err
	}
	return strings.Join(args[1:], " "), nil
}

// BuildArgs renders the argument vector for one invocation of the external tool.
// Only the requested streams are selected; with no format ids at all the best
// audio and video are merged.
func BuildArgs(invocation types.Invocation, fragmentThreads int) ([]string, error) {
	format := FormatArgs{FragmentThreads: fragmentThreads}
	if invocation.AudioFormatID != "" {
		audio := NewAudioArgs(invocation.AudioFormatID)
		format.Audio = &audio
	}
	if invocation.VideoFormatID != "" {
		video := NewVideoArgs(invocation.VideoFormatID)
		format.Video = &video
	}
	if format.Audio == nil && format.Video == nil {
		audio, video := NewAudioArgs("ba"), NewVideoArgs("bv")
		format.Audio, format.Video = &audio, &video
	}

	args, err := format.Args()
	if err != nil {
		return nil, err
	}

	output := OutputTemplate
	if invocation.OutputDir != "" {
		output = strings.TrimRight(invocation.OutputDir, "/\\") + "/" + OutputTemplate
	}

	return append(args,
		"--force-overwrites",
		"--newline",
		"--progress-template", ProgressTemplate,
		"-o", output,
		invocation.URL,
	), nil
}

// SplitFormats separates the formats of a video into audio-only and video-only
// lists. Storyboards and HLS playlists are left out.
func SplitFormats(info types.VideoInfo) types.FormatChoices {
	choices := types.FormatChoices{
		ID:        info.ID,
		Title:     info.Title,
		Channel:   info.Channel,
		Thumbnail: info.Thumbnail,
		Audio:     []types.Format{},
		Video:     []types.Format{},
	}

	for _, format := range info.Formats {
		if format.Ext == extMhtml || strings.HasPrefix(format.Protocol, protocolM3U8) {
			continue
		}

		if format.FileSize != nil && format.FileSizeLabel == "" {
			format.FileSizeLabel = humanize.IBytes(uint64(*format.FileSize))
		}

		switch {
		case format.Resolution == resolutionAudioOnly:
			choices.Audio = append(choices.Audio, format)
		case format.AudioExt == extNone:
			choices.Video = append(choices.Video, format)
		}
	}

	return choices
}
