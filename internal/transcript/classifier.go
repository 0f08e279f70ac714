package transcript

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
	"github.com/tidwall/gjson"
)

// Speaker identifies who produced a message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Message is one classified conversation turn. Time is used for ordering;
// Timestamp is the display form.
type Message struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
	Timestamp string    `json:"timestamp"`
}

// Event is the parsed form of a raw transcript event. The set of
// implementations is closed.
type Event interface {
	speaker() Speaker
	text() string
	startTime() json.RawMessage
}

type eventBase struct {
	Text      string
	StartTime json.RawMessage
}

func (e eventBase) text() string               { return e.Text }
func (e eventBase) startTime() json.RawMessage { return e.StartTime }

// AssistantText is a "text" trace spoken by the assistant.
type AssistantText struct{ eventBase }

// IntentRequest is a "request" of payload type "intent" carrying the user's query.
type IntentRequest struct{ eventBase }

// UserInput is a "user-input" event carrying a typed user message.
type UserInput struct{ eventBase }

// Unrecognized is any event that matches none of the known shapes.
type Unrecognized struct{ Type string }

func (AssistantText) speaker() Speaker { return SpeakerAssistant }
func (IntentRequest) speaker() Speaker { return SpeakerUser }
func (UserInput) speaker() Speaker     { return SpeakerUser }

func (Unrecognized) speaker() Speaker           { return "" }
func (Unrecognized) text() string               { return "" }
func (Unrecognized) startTime() json.RawMessage { return nil }

// ParseEvent matches a raw event against the known shapes. The first
// matching rule wins.
func ParseEvent(ev voiceflow.TranscriptEvent) Event {
	base := func(path string) (eventBase, bool) {
		v := gjson.GetBytes(ev.Raw, path)
		if !v.Exists() || v.String() == "" {
			return eventBase{}, false
		}
		return eventBase{Text: v.String(), StartTime: ev.StartTime}, true
	}

	switch ev.Type {
	case "text":
		if b, ok := base("payload.payload.message"); ok {
			return AssistantText{b}
		}
	case "request":
		if gjson.GetBytes(ev.Raw, "payload.type").String() == "intent" {
			if b, ok := base("payload.payload.query"); ok {
				return IntentRequest{b}
			}
		}
	case "user-input":
		if b, ok := base("payload.payload.message"); ok {
			return UserInput{b}
		}
		if b, ok := base("payload.message"); ok {
			return UserInput{b}
		}
	}
	return Unrecognized{Type: ev.Type}
}

// Classifier converts raw event logs into ordered messages.
type Classifier struct {
	loc    *time.Location
	layout string
}

func NewClassifier(loc *time.Location, layout string) *Classifier {
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = "Jan 2, 2006, 3:04:05 PM"
	}
	return &Classifier{loc: loc, layout: layout}
}

// Classify returns one message per recognised event, stable-sorted by time.
func (c *Classifier) Classify(events []voiceflow.TranscriptEvent) []Message {
	messages := make([]Message, 0, len(events))
	for _, raw := range events {
		ev := ParseEvent(raw)
		if _, ok := ev.(Unrecognized); ok {
			continue
		}
		at, display := c.timestamp(ev.startTime())
		messages = append(messages, Message{
			Speaker:   ev.speaker(),
			Text:      ev.text(),
			Time:      at,
			Timestamp: display,
		})
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Time.Before(messages[j].Time)
	})
	return messages
}

// timestamp parses an RFC 3339 string or epoch milliseconds. Unparseable
// values yield the zero time and the raw text as display string.
func (c *Classifier) timestamp(raw json.RawMessage) (time.Time, string) {
	v := gjson.ParseBytes(raw)
	var at time.Time
	switch v.Type {
	case gjson.Number:
		at = time.UnixMilli(v.Int())
	case gjson.String:
		s := v.String()
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			at = time.UnixMilli(ms)
		} else if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			at = t
		} else {
			return time.Time{}, s
		}
	default:
		return time.Time{}, ""
	}
	return at, at.In(c.loc).Format(c.layout)
}
