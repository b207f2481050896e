package naming

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		profile string
		want    string
	}{
		{"posix strips slash", "a/b:c", ProfilePOSIX, "ab:c"},
		{"windows strips reserved chars", `a/b:c<d>"e|f?g*h\i`, ProfileWindows, "abcdefghi"},
		{"windows trims trailing dots", "name. .", ProfileWindows, "name"},
		{"windows device name", "CON.txt", ProfileWindows, "_CON.txt"},
		{"collapses whitespace", "a \t\n b", ProfilePOSIX, "a b"},
		{"empty becomes placeholder", "///", ProfilePOSIX, "_"},
		{"dot dot", "..", ProfilePOSIX, "_"},
		{"unknown profile is posix", "a:b", "plan9", "a:b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Sanitizer{}.Sanitize(tc.in, tc.profile))
		})
	}
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	got := Sanitizer{}.Sanitize(strings.Repeat("é", 200)+".jpg", ProfilePOSIX)
	assert.LessOrEqual(t, len(got), MaxNameBytes)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestFormatterPath(t *testing.T) {
	t.Parallel()

	sub := downloader.Submission{
		ID:        "abc",
		Title:     "Hello: World?",
		Container: "pics",
		Score:     42,
		Created:   time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	res := downloader.Resource{URL: "https://i.redd.it/x.jpg", Extension: "jpg"}

	f, err := NewFormatter(DefaultFileScheme, DefaultFolderScheme, ProfileWindows, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "pics", "DELETED_Hello World_abc.jpg"), f.Path("/out", sub, res, 0, 1))
	assert.Equal(t, filepath.Join("/out", "pics", "DELETED_Hello World_abc_2.jpg"), f.Path("/out", sub, res, 1, 2))

	posix, err := NewFormatter("{POSTID}_{UPVOTES}", "{SUBREDDIT}/{DATE}", "", nil)
	require.NoError(t, err)
	paths := posix.Paths("/out", sub, []downloader.Resource{res})
	assert.Equal(t, []string{filepath.Join("/out", "pics", "2021-03-04T05-06-07", "abc_42.jpg")}, paths)

	flat, err := NewFormatter("{POSTID}", "", ProfilePOSIX, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "abc.txt"), flat.Path("/out", sub, downloader.Resource{Extension: ".txt"}, 0, 1))
}

func TestNewFormatterRejectsBadSchemes(t *testing.T) {
	t.Parallel()

	_, err := NewFormatter("  ", "", ProfilePOSIX, nil)
	require.ErrorIs(t, err, ErrEmptyFileScheme)
	_, err = NewFormatter("{TITLE}", "", ProfilePOSIX, nil)
	require.Error(t, err)
	_, err = NewFormatter("x/{POSTID}", "", ProfilePOSIX, nil)
	require.Error(t, err)
}
