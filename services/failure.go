package services

import (
	"regexp"
	"strings"

	"github.com/bbqjohan/yt-downloader/types"
)

var (
	botCheckPattern          = regexp.MustCompile(`ERROR:.*Sign in to confirm you.re not a bot`)
	formatUnavailablePattern = regexp.MustCompile(`ERROR:.*Requested format is not available`)
)

// ClassifyFailure turns the error output of the external tool into a message and a
// hint for the user. Unknown output is passed through with no hint.
func ClassifyFailure(output string) types.Failure {
	failure, _ := classify(output)
	return failure
}

// FailureType returns the error type matching the output of the external tool
func FailureType(output string) types.ErrorType {
	_, errorType := classify(output)
	return errorType
}

func classify(output string) (types.Failure, types.ErrorType) {
	switch {
	case botCheckPattern.MatchString(output):
		return types.Failure{
			Message: "Sign in to confirm you're not a bot.",
			Help:    "This error can happen if you're behind a VPN. Try disabling the VPN and try again.",
		}, types.ErrorBotCheck
	case formatUnavailablePattern.MatchString(output):
		return types.Failure{
			Message: "Requested format is not available.",
			Help: "This error can sometimes be fixed by updating yt-dlp. Try updating it and try again. " +
				"Alternatively, if you know the format is available, sometimes just trying again will work.",
		}, types.ErrorFormatUnavailable
	default:
		return types.Failure{Message: strings.TrimSpace(output)}, types.ErrorProcess
	}
}
