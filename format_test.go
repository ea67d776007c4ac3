package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/timeline-go/internal/api"
)

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"zoned", "2020-12-25T08:00:00Z", "Dec 25  2020"},
		{"no zone", "2020-12-25T08:00:00", "Dec 25  2020"},
		{"fractional", "2020-12-25T08:00:00.123456", "Dec 25  2020"},
		{"unparseable", "yesterday", "yesterday"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTimestamp(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "héllo wö...", truncate("héllo wörld again", 11))
}

func TestAuthor(t *testing.T) {
	assert.Equal(t, "bob", author(api.Record{"user": map[string]any{"username": "bob"}}))
	assert.Equal(t, "alice", author(api.Record{"user": api.Record{"username": "alice"}}))
	assert.Empty(t, author(api.Record{"text": "anonymous"}))
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "7", recordID(api.Record{"id": "7"}))
	assert.Equal(t, "-", recordID(api.Record{"text": "x"}))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "AUTHOR", "TEXT"}
	rows := [][]string{
		{"1", "alice", "hello"},
		{"22", "bob", "hi there"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "ID  AUTHOR  TEXT", lines[0])
	assert.Equal(t, "1   alice   hello", lines[1])
	assert.Equal(t, "22  bob     hi there", lines[2])
}

func TestPrintPublications_NotTruncatedWhenPiped(t *testing.T) {
	var buf bytes.Buffer

	long := strings.Repeat("x", maxTerminalText*2)
	printPublications(&buf, []api.Record{{"id": "1", "text": long}})

	assert.Contains(t, buf.String(), long)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	assert.False(t, isTerminal(f))
}
