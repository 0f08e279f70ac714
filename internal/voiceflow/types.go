package voiceflow

import (
	"encoding/json"
	"fmt"
)

// ChunkSource identifies the document a knowledge chunk came from.
type ChunkSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Chunk is one retrieved knowledge-base snippet.
type Chunk struct {
	Source ChunkSource `json:"source"`
}

// KnowledgeResponse is the decoded knowledge-base query result. Raw holds the
// whole upstream body so it can be passed through untouched.
type KnowledgeResponse struct {
	Chunks []Chunk
	Output json.RawMessage
	Raw    json.RawMessage
}

func (k *KnowledgeResponse) UnmarshalJSON(b []byte) error {
	var body struct {
		Chunks []Chunk          `json:"chunks"`
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return err
	}
	k.Chunks = body.Chunks
	k.Output = body.Output
	k.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// TranscriptSummary is one entry of a project's transcript list. Only the
// identifiers are decoded; Raw keeps the upstream record verbatim.
type TranscriptSummary struct {
	ID        string
	SessionID string
	Raw       json.RawMessage
}

func (t *TranscriptSummary) UnmarshalJSON(b []byte) error {
	var head struct {
		ID        string `json:"_id"`
		SessionID string `json:"sessionID"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("decode transcript summary: %w", err)
	}
	t.ID = head.ID
	t.SessionID = head.SessionID
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (t TranscriptSummary) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	return json.Marshal(struct {
		ID        string `json:"_id"`
		SessionID string `json:"sessionID"`
	}{t.ID, t.SessionID})
}

// TranscriptEvent is one raw entry of a transcript's event log. Its payload
// shape depends on Type and is left undecoded.
type TranscriptEvent struct {
	Type      string
	StartTime json.RawMessage
	Raw       json.RawMessage
}

func (e *TranscriptEvent) UnmarshalJSON(b []byte) error {
	var head struct {
		Type      string          `json:"type"`
		StartTime json.RawMessage `json:"startTime"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("decode transcript event: %w", err)
	}
	e.Type = head.Type
	e.StartTime = head.StartTime
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// UpstreamError is a non-2xx answer from Voiceflow.
type UpstreamError struct {
	Op         string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("voiceflow %s: %s", e.Op, e.Status)
}

// Details returns the upstream body as JSON when it parses, otherwise as a
// string, for inclusion in error responses.
func (e *UpstreamError) Details() any {
	if len(e.Body) > 0 && json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	if len(e.Body) > 0 {
		return string(e.Body)
	}
	return e.Error()
}
