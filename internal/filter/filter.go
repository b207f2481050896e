// Package filter rejects submissions and resources before any network work happens.
package filter

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// DeletedAuthor stands in for a submission whose author account is gone.
const DeletedAuthor = "DELETED"

// Reason names why a submission or resource was rejected. Empty means accepted.
type Reason string

// Rejection reasons.
const (
	ReasonNone             Reason = ""
	ReasonExcludedID       Reason = "excluded_id"
	ReasonSkippedContainer Reason = "skipped_subreddit"
	ReasonIgnoredAuthor    Reason = "ignored_author"
	ReasonScoreBelow       Reason = "score_below_min"
	ReasonScoreAbove       Reason = "score_above_max"
	ReasonRatio            Reason = "upvote_ratio"
	ReasonDomain           Reason = "excluded_domain"
	ReasonEmptyURL         Reason = "empty_url"
	ReasonExtension        Reason = "excluded_extension"
)

// Config lists the rules. Zero numeric bounds are unset.
type Config struct {
	ExcludeIDs     []string `mapstructure:"exclude_ids"`
	SkipSubreddits []string `mapstructure:"skip_subreddits"`
	IgnoreUsers    []string `mapstructure:"ignore_users"`
	MinScore       int      `mapstructure:"min_score"`
	MaxScore       int      `mapstructure:"max_score"`
	MinScoreRatio  float64  `mapstructure:"min_score_ratio"`
	MaxScoreRatio  float64  `mapstructure:"max_score_ratio"`
	SkipDomains    []string `mapstructure:"skip_domains"`
	SkipExtensions []string `mapstructure:"skip_extensions"`
}

// Filter evaluates Config rules. The zero value accepts everything.
type Filter struct {
	ids        map[string]struct{}
	containers map[string]struct{}
	users      map[string]struct{}
	extensions map[string]struct{}
	domains    *domainBlocklist
	cfg        Config
}

// New compiles cfg into a Filter.
func New(cfg Config) *Filter {
	return &Filter{
		ids:        toSet(cfg.ExcludeIDs, false),
		containers: toSet(cfg.SkipSubreddits, true),
		users:      toSet(cfg.IgnoreUsers, false),
		extensions: toSet(normalizeExtensions(cfg.SkipExtensions), true),
		domains:    newDomainBlocklist(cfg.SkipDomains),
		cfg:        cfg,
	}
}

// Submission applies the submission-level rules in a fixed order and returns
// the first one that rejects sub.
func (f *Filter) Submission(sub downloader.Submission) Reason {
	if f == nil {
		return ReasonNone
	}
	author := sub.Author
	if author == "" {
		author = DeletedAuthor
	}
	switch {
	case contains(f.ids, sub.ID):
		return ReasonExcludedID
	case contains(f.containers, strings.ToLower(sub.Container)):
		return ReasonSkippedContainer
	case contains(f.users, author):
		return ReasonIgnoredAuthor
	case f.cfg.MinScore != 0 && sub.Score < f.cfg.MinScore:
		return ReasonScoreBelow
	case f.cfg.MaxScore != 0 && sub.Score > f.cfg.MaxScore:
		return ReasonScoreAbove
	case f.cfg.MinScoreRatio != 0 && sub.UpvoteRatio < f.cfg.MinScoreRatio,
		f.cfg.MaxScoreRatio != 0 && sub.UpvoteRatio > f.cfg.MaxScoreRatio:
		return ReasonRatio
	case strings.TrimSpace(sub.URL) == "":
		return ReasonEmptyURL
	case f.domains.blocked(submissionHost(sub)):
		return ReasonDomain
	}
	return ReasonNone
}

// Resource applies the per-resource rules: excluded domains and extensions.
func (f *Filter) Resource(res downloader.Resource) Reason {
	if f == nil {
		return ReasonNone
	}
	if res.URL != "" && f.domains.blocked(hostOf(res.URL)) {
		return ReasonDomain
	}
	if contains(f.extensions, strings.ToLower(res.Extension)) {
		return ReasonExtension
	}
	return ReasonNone
}

func submissionHost(sub downloader.Submission) string {
	if host := hostOf(sub.URL); host != "" {
		return host
	}
	return sub.Domain
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ext := range in {
		out = append(out, strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	return out
}

func toSet(values []string, fold bool) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if fold {
			v = strings.ToLower(v)
		}
		set[v] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, v string) bool {
	if v == "" {
		return false
	}
	_, ok := set[v]
	return ok
}
