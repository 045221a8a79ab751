package subtitle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,500\nHola a todos y bienvenidos al programa de hoy\n\n" +
	"2\n00:00:03,000 --> 00:00:04,000\nHoy vamos a hablar de la historia de la ciudad\nsegunda línea\n\n" +
	"3\n00:00:05,000 --> 00:00:07,250\nMuchas gracias por estar aquí con nosotros\n"

func TestReadSRT(t *testing.T) {
	file, err := readSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)
	require.Len(t, file.Cues, 3)

	assert.Equal(t, 1, file.Cues[0].Index)
	assert.Equal(t, time.Second, file.Cues[0].StartTime)
	assert.Equal(t, 2500*time.Millisecond, file.Cues[0].EndTime)
	assert.Equal(t, "Hoy vamos a hablar de la historia de la ciudad\nsegunda línea", file.Cues[1].Text)
	assert.Equal(t, "SRT", file.Format)
	assert.Equal(t, 7250*time.Millisecond, file.Duration())
}

func TestReadSRT_CRLFAndBOM(t *testing.T) {
	data := "\ufeff1\r\n00:00:01,000 --> 00:00:02,000\r\nHello\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nWorld\r\n"

	file, err := readSRT(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, file.Cues, 2)
	assert.Equal(t, "Hello", file.Cues[0].Text)
	assert.Equal(t, "World", file.Cues[1].Text)
}

func TestReadSRT_BadTimestamp(t *testing.T) {
	_, err := readSRT(strings.NewReader("1\nnot a time\nHello\n"))
	assert.Error(t, err)
}

func TestReadSRT_Empty(t *testing.T) {
	file, err := readSRT(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, file.Cues)
	assert.Equal(t, language.Und, file.Language)
	assert.Equal(t, time.Duration(0), file.Duration())
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.srt")
	require.NoError(t, os.WriteFile(path, []byte(sampleSRT), 0o644))

	file, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Cues, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "job.vtt"))
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	cues := []Cue{
		{Text: "Hello, world!"},
		{Text: "こんにちは、世界!"},
		{Text: "こんにちは、世界!"},
		{Text: "Привет, мир!"},
	}
	assert.Equal(t, language.Japanese, detectLanguage(cues))
}
