package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Default schemes match the layout users of the previous downloader expect.
const (
	DefaultFileScheme   = "{REDDITOR}_{TITLE}_{POSTID}"
	DefaultFolderScheme = "{SUBREDDIT}"
	dateLayout          = "2006-01-02T15-04-05"
)

// Keys recognized in schemes.
var schemeKeys = []string{"{POSTID}", "{TITLE}", "{REDDITOR}", "{SUBREDDIT}", "{UPVOTES}", "{FLAIR}", "{DATE}"}

// ErrEmptyFileScheme is returned when the file scheme would produce no name.
var ErrEmptyFileScheme = errors.New("file scheme must not be empty")

// Formatter builds destination paths from schemes like "{SUBREDDIT}/{POSTID}".
type Formatter struct {
	file      string
	folder    []string
	profile   string
	sanitizer downloader.PathSanitizer
}

// NewFormatter validates the schemes. A nil sanitizer uses Sanitizer.
func NewFormatter(fileScheme, folderScheme, profile string, sanitizer downloader.PathSanitizer) (*Formatter, error) {
	fileScheme = strings.TrimSpace(fileScheme)
	if fileScheme == "" {
		return nil, ErrEmptyFileScheme
	}
	if strings.ContainsAny(fileScheme, `/\`) {
		return nil, fmt.Errorf("file scheme %q must not contain path separators", fileScheme)
	}
	if !strings.Contains(fileScheme, "{POSTID}") {
		return nil, fmt.Errorf("file scheme %q must contain {POSTID} to keep names unique", fileScheme)
	}
	if sanitizer == nil {
		sanitizer = Sanitizer{}
	}
	if profile == "" {
		profile = ProfilePOSIX
	}
	var folder []string
	for _, segment := range strings.Split(filepath.ToSlash(folderScheme), "/") {
		if segment = strings.TrimSpace(segment); segment != "" {
			folder = append(folder, segment)
		}
	}
	return &Formatter{file: fileScheme, folder: folder, profile: profile, sanitizer: sanitizer}, nil
}

// Path returns the destination for the index-th (zero-based) of total resources
// of sub under root. Multi-resource submissions get a 1-based suffix.
func (f *Formatter) Path(root string, sub downloader.Submission, res downloader.Resource, index, total int) string {
	r := replacerFor(sub)
	parts := make([]string, 0, len(f.folder)+2)
	parts = append(parts, root)
	for _, segment := range f.folder {
		parts = append(parts, f.sanitizer.Sanitize(r.Replace(segment), f.profile))
	}

	name := r.Replace(f.file)
	if total > 1 {
		name += "_" + strconv.Itoa(index+1)
	}
	if ext := strings.TrimPrefix(res.Extension, "."); ext != "" {
		name += "." + ext
	}
	parts = append(parts, f.sanitizer.Sanitize(name, f.profile))
	return filepath.Join(parts...)
}

// Paths formats every resource of sub.
func (f *Formatter) Paths(root string, sub downloader.Submission, resources []downloader.Resource) []string {
	out := make([]string, 0, len(resources))
	for i, res := range resources {
		out = append(out, f.Path(root, sub, res, i, len(resources)))
	}
	return out
}

func replacerFor(sub downloader.Submission) *strings.Replacer {
	author := sub.Author
	if author == "" {
		author = "DELETED"
	}
	var date string
	if !sub.Created.IsZero() {
		date = sub.Created.UTC().Format(dateLayout)
	}
	values := []string{sub.ID, sub.Title, author, sub.Container, strconv.Itoa(sub.Score), sub.Flair, date}
	pairs := make([]string, 0, len(schemeKeys)*2)
	for i, key := range schemeKeys {
		pairs = append(pairs, key, values[i])
	}
	return strings.NewReplacer(pairs...)
}
