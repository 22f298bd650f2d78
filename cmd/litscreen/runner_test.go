package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Prompt(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want string
	}{
		{"title and abstract", Record{Title: "A study", Abstract: "We did X."}, "A study\n\nWe did X."},
		{"text wins", Record{Title: "ignored", Text: "direct text"}, "direct text"},
		{"title only", Record{Title: "A study"}, "A study"},
		{"abstract only", Record{Abstract: "We did X."}, "We did X."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rec.prompt())
		})
	}
}

func TestReadRecords(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "in.jsonl")
	content := `{"id":"r1","title":"T1","abstract":"A1"}

{"id":"r2","text":"raw prompt"}
plain line
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	records, err := readRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 3, "空行应被跳过")

	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "T1\n\nA1", records[0].prompt())
	assert.Equal(t, "raw prompt", records[1].prompt())
	assert.Equal(t, "plain line", records[2].prompt())
}

func TestReadRecords_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": broken`+"\n"), 0644))

	_, err := readRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
