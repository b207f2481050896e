// Package source reads submissions for a run.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

const maxLineBytes = 16 << 20

// ErrMalformedLine wraps a line that is not a submission object.
var ErrMalformedLine = errors.New("malformed submission line")

// wireSubmission mirrors the platform's JSON listing shape.
type wireSubmission struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Domain      string        `json:"domain"`
	Author      *string       `json:"author"`
	Subreddit   string        `json:"subreddit"`
	Score       int           `json:"score"`
	UpvoteRatio float64       `json:"upvote_ratio"`
	Title       string        `json:"title"`
	Flair       *string       `json:"link_flair_text"`
	CreatedUTC  float64       `json:"created_utc"`
	IsSelf      bool          `json:"is_self"`
	SelfText    string        `json:"selftext"`
	GalleryURLs []string      `json:"gallery_urls"`
	Comments    []wireComment `json:"comments"`
}

type wireComment struct {
	ID         string        `json:"id"`
	Author     *string       `json:"author"`
	Body       string        `json:"body"`
	Score      int           `json:"score"`
	CreatedUTC float64       `json:"created_utc"`
	Replies    []wireComment `json:"replies"`
}

// JSONLines yields one submission per non-blank line of a reader.
type JSONLines struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONLines wraps r. It does not close r.
func NewJSONLines(r io.Reader) *JSONLines {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return &JSONLines{scanner: scanner}
}

// Open reads submissions from path; "-" means standard input.
func Open(path string) (*JSONLines, error) {
	if path == "" || path == "-" {
		return NewJSONLines(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open submissions %s: %w", path, err)
	}
	src := NewJSONLines(f)
	src.closer = f
	return src, nil
}

// Next returns the next submission, or io.EOF when the input is exhausted.
func (s *JSONLines) Next(ctx context.Context) (downloader.Submission, error) {
	for {
		if err := ctx.Err(); err != nil {
			return downloader.Submission{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return downloader.Submission{}, fmt.Errorf("read submissions: %w", err)
			}
			return downloader.Submission{}, io.EOF
		}
		s.line++
		raw := strings.TrimSpace(s.scanner.Text())
		if raw == "" {
			continue
		}
		var wire wireSubmission
		if err := json.Unmarshal([]byte(raw), &wire); err != nil {
			return downloader.Submission{}, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, s.line, err)
		}
		if wire.ID == "" {
			return downloader.Submission{}, fmt.Errorf("%w: line %d: missing id", ErrMalformedLine, s.line)
		}
		return wire.submission(), nil
	}
}

// Close releases the underlying file when Open created it.
func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (w wireSubmission) submission() downloader.Submission {
	comments := make([]downloader.Comment, 0, len(w.Comments))
	for _, c := range w.Comments {
		comments = append(comments, c.comment())
	}
	if len(comments) == 0 {
		comments = nil
	}
	return downloader.Submission{
		ID:          w.ID,
		URL:         w.URL,
		Domain:      w.Domain,
		Author:      deref(w.Author),
		Container:   w.Subreddit,
		Score:       w.Score,
		UpvoteRatio: w.UpvoteRatio,
		Title:       w.Title,
		Flair:       deref(w.Flair),
		Created:     fromEpoch(w.CreatedUTC),
		IsSelf:      w.IsSelf,
		SelfText:    w.SelfText,
		GalleryURLs: w.GalleryURLs,
		Comments:    comments,
	}
}

func (w wireComment) comment() downloader.Comment {
	out := downloader.Comment{
		ID:      w.ID,
		Author:  deref(w.Author),
		Body:    w.Body,
		Score:   w.Score,
		Created: fromEpoch(w.CreatedUTC),
	}
	for _, r := range w.Replies {
		out.Replies = append(out.Replies, r.comment())
	}
	return out
}

// fromEpoch converts fractional epoch seconds. Zero stays the zero time.
func fromEpoch(secs float64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
