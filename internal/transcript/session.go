package transcript

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
)

// ErrMissingSessionID is reported when a lookup is attempted without a
// session id. It is distinct from NotFoundError.
var ErrMissingSessionID = errors.New("no session ID was provided")

// NotFoundError reports that no transcript matched SessionID. Available lists
// every session id of the project, in upstream order.
type NotFoundError struct {
	SessionID string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no transcript found with session ID %q", e.SessionID)
}

// FindTranscript returns the first transcript whose session id equals
// sessionID exactly.
func FindTranscript(transcripts []voiceflow.TranscriptSummary, sessionID string) (voiceflow.TranscriptSummary, error) {
	if sessionID == "" {
		return voiceflow.TranscriptSummary{}, ErrMissingSessionID
	}
	for _, t := range transcripts {
		if t.SessionID == sessionID {
			return t, nil
		}
	}
	available := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		available = append(available, t.SessionID)
	}
	return voiceflow.TranscriptSummary{}, &NotFoundError{SessionID: sessionID, Available: available}
}

// projectLinkAliases maps project ids whose transcripts live under a
// different id in the creator UI. It holds a single legacy project.
var projectLinkAliases = map[string]string{
	"678e0f128a8526a7fdf491cd": "678e0f128a8526a7fdf491ce",
}

// LinkProjectID returns the project id to use in creator links.
func LinkProjectID(projectID string) string {
	if alias, ok := projectLinkAliases[projectID]; ok {
		return alias
	}
	return projectID
}

// TranscriptURL builds the creator deep link for one transcript.
func TranscriptURL(creatorBase, projectID, transcriptID string) string {
	return fmt.Sprintf("%s/project/%s/transcripts/%s",
		strings.TrimRight(creatorBase, "/"),
		url.PathEscape(LinkProjectID(projectID)),
		url.PathEscape(transcriptID))
}
