package services

import (
	"context"

	"github.com/bbqjohan/yt-downloader/types"
	"go.uber.org/zap"
)

// ExternalInvoker leaves the download to a process outside this one. That process
// receives the arguments from the log or the queue endpoints and reports back
// through the events endpoint; Download only holds the slot until the root ends.
type ExternalInvoker struct {
	threads int
	logger  *zap.Logger
}

// NewExternalInvoker creates an invoker that renders arguments for fragmentThreads
func NewExternalInvoker(fragmentThreads int, logger *zap.Logger) *ExternalInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExternalInvoker{threads: fragmentThreads, logger: logger.Named("external")}
}

// Download blocks until ctx is done
func (e *ExternalInvoker) Download(ctx context.Context, invocation types.Invocation, sink EventSink) error {
	args, err := BuildArgs(invocation, e.threads)
	if err != nil {
		return err
	}

	e.logger.Info("waiting for external download",
		zap.String("id", invocation.RootID),
		zap.String("url", invocation.URL),
		zap.Strings("args", args))

	<-ctx.Done()
	return nil
}
