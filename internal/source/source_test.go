package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

const listing = `{"id":"a1","url":"https://i.redd.it/x.jpg","domain":"i.redd.it","author":"alice","subreddit":"pics","score":12,"upvote_ratio":0.93,"title":"X","created_utc":1614834367.5}

{"id":"b2","url":"https://www.reddit.com/r/go/comments/b2/","author":null,"subreddit":"go","is_self":true,"selftext":"hi","link_flair_text":"Help","created_utc":1614834367,"comments":[{"id":"c1","author":"bob","body":"yo","replies":[{"id":"c2","body":"re"}]}]}
`

func TestJSONLinesReadsInOrder(t *testing.T) {
	t.Parallel()

	src := NewJSONLines(strings.NewReader(listing))
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "pics", first.Container)
	assert.Equal(t, "alice", first.Author)
	assert.InDelta(t, 0.93, first.UpvoteRatio, 1e-9)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 500_000_000, time.UTC), first.Created)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Author)
	assert.True(t, second.IsSelf)
	assert.Equal(t, "Help", second.Flair)
	require.Len(t, second.Comments, 1)
	require.Len(t, second.Comments[0].Replies, 1)
	assert.Equal(t, "re", second.Comments[0].Replies[0].Body)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestJSONLinesMalformed(t *testing.T) {
	t.Parallel()

	src := NewJSONLines(strings.NewReader("{\"id\":\"ok\"}\nnot json\n{\"url\":\"x\"}\n"))
	ctx := context.Background()
	_, err := src.Next(ctx)
	require.NoError(t, err)
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, ErrMalformedLine)
	assert.Contains(t, err.Error(), "line 2")
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, ErrMalformedLine)
}

func TestJSONLinesCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJSONLines(strings.NewReader(listing)).Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "subs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(listing), 0o600))
	src, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	var ids []string
	for {
		sub, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}
	assert.Equal(t, []string{"a1", "b2"}, ids)

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	t.Parallel()

	var auth downloader.Authenticator = StaticToken("secret")
	tok, err := auth.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", tok)

	_, err = StaticToken("").Token(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}
