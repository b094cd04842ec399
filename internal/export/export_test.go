// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/multichat/internal/model"
)

func testSession() model.Session {
	s := model.NewSession("anthropic/claude-3.5-sonnet")
	s.CreatedAt = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	s.UpdatedAt = s.CreatedAt.Add(time.Minute)

	user := model.NewUserMessage("What is a #hashtag?")
	user.Timestamp = s.CreatedAt

	reply := model.NewMessage(model.RoleAssistant, model.Text("A tag.\n\n```go\nfmt.Println(1)\n```"))
	reply.ModelID = s.ModelID
	reply.Timestamp = s.CreatedAt.Add(5 * time.Second)

	s.Messages = []model.Message{user, reply}
	return s
}

func TestNew(t *testing.T) {
	for _, format := range []string{"", "md", "markdown", "MD"} {
		exp, err := New(format, nil)
		require.NoError(t, err)
		require.Equal(t, ".md", exp.FileExtension())
	}

	exp, err := New("json", nil)
	require.NoError(t, err)
	require.Equal(t, ".json", exp.FileExtension())

	_, err = New("html", nil)
	require.ErrorContains(t, err, "unsupported export format")

	require.True(t, IsFormat("JSON"))
	require.True(t, IsFormat("markdown"))
	require.False(t, IsFormat("html"))
	require.False(t, IsFormat(""))
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testSession())
	require.NoError(t, err)
	md := string(out)

	require.True(t, strings.HasPrefix(md, "---\n"))
	require.Contains(t, md, "# What is a \\#hashtag?")
	require.Contains(t, md, "- **Model**: Claude 3.5 Sonnet")
	require.Contains(t, md, "- **Messages**: 2")
	require.Contains(t, md, "### [You] <sub>09:30:00</sub>")
	require.Contains(t, md, "### [Claude 3.5 Sonnet] <sub>09:30:05</sub>")
	require.Contains(t, md, "```go\nfmt.Println(1)\n```")
	require.Contains(t, md, "*Exported from multichat on ")
}

func TestMarkdownFrontmatterIsValidYAML(t *testing.T) {
	s := testSession()
	s.Messages[0].Content = model.Text(`Quote "this": and #that`)

	out, err := NewMarkdownExporter(nil).Export(s)
	require.NoError(t, err)

	parts := strings.SplitN(string(out), "---\n", 3)
	require.Len(t, parts, 3)

	var fm frontmatter
	require.NoError(t, yaml.Unmarshal([]byte(parts[1]), &fm))
	require.Equal(t, `Quote "this": and #that`, fm.Title)
	require.Equal(t, s.ID, fm.Session)
	require.Equal(t, "anthropic/claude-3.5-sonnet", fm.Model)
	require.Equal(t, 2, fm.Messages)
	require.True(t, fm.Created.Equal(s.CreatedAt))
}

func TestMarkdownWithoutMetadata(t *testing.T) {
	out, err := NewMarkdownExporter(&Options{}).Export(testSession())
	require.NoError(t, err)
	md := string(out)

	require.True(t, strings.HasPrefix(md, "# "))
	require.NotContains(t, md, "Session Information")
	require.Contains(t, md, "### [You]\n")
	require.NotContains(t, md, "<sub>")
}

func TestMarkdownImages(t *testing.T) {
	s := testSession()
	s.Messages[1].Content = model.Parts(
		model.TextPart("Here you go"),
		model.ImagePart("https://example.com/cat.png"),
		model.ImagePart("data:image/png;base64,AAAA"),
	)

	out, err := NewMarkdownExporter(nil).Export(s)
	require.NoError(t, err)
	require.Contains(t, string(out), "Here you go\n\n![image 1](https://example.com/cat.png)\n\n![image 2](data:image/png;base64,AAAA)")
}

func TestEmptySessionRejected(t *testing.T) {
	s := model.NewSession("anthropic/claude-3.5-sonnet")

	_, err := NewMarkdownExporter(nil).Export(s)
	require.ErrorIs(t, err, ErrEmptySession)
	_, err = NewJSONExporter().Export(s)
	require.ErrorIs(t, err, ErrEmptySession)
}

func TestJSONExportRoundTrip(t *testing.T) {
	s := testSession()
	s.IsLoading = true
	s.Error = "timeout"

	out, err := NewJSONExporter().Export(s)
	require.NoError(t, err)

	var back model.Session
	require.NoError(t, json.Unmarshal(out, &back))
	require.Equal(t, s.ID, back.ID)
	require.Len(t, back.Messages, 2)
	require.Equal(t, s.Messages[1].Content.String(), back.Messages[1].Content.String())
	require.False(t, back.IsLoading)
	require.Empty(t, back.Error)
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	path, err := ToFile(testSession(), NewJSONExporter(), dir)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	name := filepath.Base(path)
	require.True(t, strings.HasPrefix(name, "Claude_3.5_Sonnet_What_is_a_#hashtag-_"), name)
	require.True(t, strings.HasSuffix(name, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"modelId": "anthropic/claude-3.5-sonnet"`)
}

func TestTitle(t *testing.T) {
	s := model.NewSession("anthropic/claude-3.5-sonnet")
	require.Equal(t, "conversation", Title(s))

	s.Messages = []model.Message{model.NewUserMessage(strings.Repeat("word ", 30))}
	require.LessOrEqual(t, len([]rune(Title(s))), 60)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b\\c:d", "a-b-c-d"},
		{"two words", "two_words"},
		{"tab\there", "tab_here"},
		{"", "conversation"},
		{"ctrl\x01x", "ctrl-x"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
	require.LessOrEqual(t, len([]rune(sanitizeFilename(strings.Repeat("x", 100)))), 40)
}
