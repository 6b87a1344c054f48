package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bbqjohan/yt-downloader/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ScriptStep is one event of a replay script
type ScriptStep struct {
	Event   types.EventKind `yaml:"event"`
	Output  string          `yaml:"output,omitempty"`
	Message string          `yaml:"message,omitempty"`
	Help    string          `yaml:"help,omitempty"`
	Delay   time.Duration   `yaml:"delay,omitempty"`
}

// ToEvent converts the step into the event it stands for
func (s ScriptStep) ToEvent() (types.Event, error) {
	switch s.Event {
	case types.EventStarted:
		return types.StartedEvent{}, nil
	case types.EventProgress:
		return types.ProgressEvent{Output: s.Output}, nil
	case types.EventFinished:
		return types.FinishedEvent{}, nil
	case types.EventError:
		return types.ErrorEvent{Message: s.Message, Help: s.Help}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", s.Event)
	}
}

// Script is a recorded download. URL is optional and binds the script to one video.
type Script struct {
	URL    string       `yaml:"url,omitempty"`
	Events []ScriptStep `yaml:"events"`
}

// ParseScript reads a YAML script
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, step := range script.Events {
		if _, err := step.ToEvent(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return &script, nil
}

// ParseTranscript turns raw output of the external tool into a script. Every
// non-empty line becomes a progress event; lines are split on both \r and \n since
// the tool rewrites its status line in place.
func ParseTranscript(r io.Reader) (*Script, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanStatusLines)

	script := &Script{Events: []ScriptStep{{Event: types.EventStarted}}}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		script.Events = append(script.Events, ScriptStep{Event: types.EventProgress, Output: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	script.Events = append(script.Events, ScriptStep{Event: types.EventFinished})
	return script, nil
}

func scanStatusLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LoadScript reads a script file. Files ending in .yaml or .yml are scripts,
// anything else is treated as a transcript.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseScript(data)
	default:
		return ParseTranscript(bytes.NewReader(data))
	}
}

// ReplayInvoker plays recorded scripts instead of running the external tool
type ReplayInvoker struct {
	scripts  map[string]*Script
	fallback *Script
	step     time.Duration
	threads  int
	logger   *zap.Logger
}

// NewReplayInvoker creates an invoker that plays fallback for any URL without a
// script of its own. step is the pause between events that set no delay.
func NewReplayInvoker(fallback *Script, step time.Duration, logger *zap.Logger) *ReplayInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayInvoker{
		scripts:  make(map[string]*Script),
		fallback: fallback,
		step:     step,
		threads:  1,
		logger:   logger.Named("replay"),
	}
}

// LoadReplayInvoker loads every script in dir. Scripts with a url are bound to it;
// the first one without becomes the fallback.
func LoadReplayInvoker(dir string, step time.Duration, logger *zap.Logger) (*ReplayInvoker, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read script directory: %w", err)
	}

	invoker := NewReplayInvoker(nil, step, logger)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		script, err := LoadScript(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		switch {
		case script.URL != "":
			invoker.Add(script)
		case invoker.fallback == nil:
			invoker.fallback = script
		}
	}

	invoker.logger.Info("loaded replay scripts",
		zap.String("dir", dir),
		zap.Int("bound", len(invoker.scripts)),
		zap.Bool("fallback", invoker.fallback != nil))

	return invoker, nil
}

// Add binds script to its URL
func (r *ReplayInvoker) Add(script *Script) {
	r.scripts[script.URL] = script
}

// WithFragmentThreads sets the thread count shown in the logged arguments
func (r *ReplayInvoker) WithFragmentThreads(threads int) *ReplayInvoker {
	r.threads = threads
	return r
}

// Download plays the script for the invocation's URL into sink. Events rejected by
// the sink because the root already ended stop the replay.
func (r *ReplayInvoker) Download(ctx context.Context, invocation types.Invocation, sink EventSink) error {
	script, ok := r.scripts[invocation.URL]
	if !ok {
		script = r.fallback
	}
	if script == nil {
		return fmt.Errorf("ERROR: no replay script for %s", invocation.URL)
	}

	if args, err := BuildArgs(invocation, r.threads); err == nil {
		r.logger.Debug("replaying download", zap.String("id", invocation.RootID), zap.Strings("args", args))
	}

	for _, step := range script.Events {
		delay := step.Delay
		if delay == 0 {
			delay = r.step
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event, err := step.ToEvent()
		if err != nil {
			return err
		}

		if err := sink.Send(event); err != nil {
			if types.IsDownloadError(err, types.ErrorNotActive) {
				r.logger.Debug("download ended before script", zap.String("id", invocation.RootID))
				return nil
			}
			return err
		}
	}

	return nil
}
