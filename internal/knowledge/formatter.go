package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
)

// NoMatchesAnswer is returned when no chunk carries a usable source URL.
const NoMatchesAnswer = "Sorry, I couldn't find any matching pages."

// TitleResolver looks up a human-readable title for a URL. Implementations
// must not fail; they return a placeholder instead.
type TitleResolver interface {
	Resolve(ctx context.Context, url string) string
}

// UniqueSource is a deduplicated chunk source.
type UniqueSource struct {
	URL   string
	Chunk voiceflow.Chunk
}

// UniqueSources removes chunks with an empty URL and keeps the first chunk
// for every URL, preserving order.
func UniqueSources(chunks []voiceflow.Chunk) []UniqueSource {
	seen := make(map[string]struct{}, len(chunks))
	var unique []UniqueSource
	for _, c := range chunks {
		u := c.Source.URL
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, UniqueSource{URL: u, Chunk: c})
	}
	return unique
}

// Formatter renders knowledge chunks as a numbered list of page titles.
type Formatter struct {
	titles TitleResolver
}

func NewFormatter(titles TitleResolver) *Formatter {
	return &Formatter{titles: titles}
}

// Format returns the numbered answer for chunks, or NoMatchesAnswer. Titles
// are resolved one at a time in list order.
func (f *Formatter) Format(ctx context.Context, chunks []voiceflow.Chunk) string {
	sources := UniqueSources(chunks)
	if len(sources) == 0 {
		return NoMatchesAnswer
	}
	entries := make([]string, 0, len(sources))
	for i, s := range sources {
		title := f.titles.Resolve(ctx, s.URL)
		entries = append(entries, fmt.Sprintf("%d. %s\n   %s", i+1, title, s.URL))
	}
	return strings.Join(entries, "\n\n")
}
