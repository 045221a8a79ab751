package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Cue is a single timed subtitle entry.
type Cue struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// File is a parsed subtitle document.
type File struct {
	Cues     []Cue
	Language language.Tag // detected from cue text, language.Und when unknown
	Format   string       // e.g. SRT
}

// Duration is the end time of the last cue.
func (f *File) Duration() time.Duration {
	var end time.Duration
	for _, c := range f.Cues {
		if c.EndTime > end {
			end = c.EndTime
		}
	}
	return end
}
