package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// SRT time format: 00:02:16,612 --> 00:02:19,376
var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)

// ReadFile parses an SRT file on disk.
func ReadFile(path string) (*File, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer file.Close()
	return readSRT(file)
}

func readSRT(r io.Reader) (*File, error) {
	var cues []Cue
	scanner := bufio.NewScanner(r)

	current := Cue{}
	state := "index" // index, time, text
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			start, end, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("cue %d: %w", current.Index, err)
			}
			current.StartTime = start
			current.EndTime = end
			state = "text"
			textLines = textLines[:0]

		case "text":
			if line == "" {
				if len(textLines) > 0 {
					current.Text = strings.Join(textLines, "\n")
					cues = append(cues, current)
					current = Cue{}
				}
				state = "index"
				textLines = textLines[:0]
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	if state == "text" && len(textLines) > 0 {
		current.Text = strings.Join(textLines, "\n")
		cues = append(cues, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitles: %w", err)
	}

	return &File{
		Cues:     cues,
		Language: detectLanguage(cues),
		Format:   "SRT",
	}, nil
}

func parseSRTTime(s string) (time.Duration, time.Duration, error) {
	m := srtTimeRe.FindStringSubmatch(s)
	if len(m) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", s)
	}
	return clock(m[1], m[2], m[3], m[4]), clock(m[5], m[6], m[7], m[8]), nil
}

// clock assumes digit-only fields already matched by srtTimeRe.
func clock(hours, minutes, seconds, millis string) time.Duration {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)
	ms, _ := strconv.Atoi(millis)
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond
}

// detectLanguage votes per cue and returns the most common language.
func detectLanguage(cues []Cue) language.Tag {
	if len(cues) == 0 {
		return language.Und
	}

	votes := make(map[string]int)
	for _, c := range cues {
		info := whatlanggo.Detect(c.Text)
		if code := info.Lang.Iso6391(); code != "" {
			votes[code]++
		}
	}

	var top string
	var topCount int
	for code, n := range votes {
		if n > topCount || (n == topCount && code < top) {
			top, topCount = code, n
		}
	}
	if top == "" {
		return language.Und
	}
	return language.Make(top)
}
