package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies an ingestion source.
type Kind string

// Supported kinds.
const (
	KindWebpage   Kind = "webpage"
	KindWebpages  Kind = "webpages"
	KindSitemap   Kind = "sitemap"
	KindRecursive Kind = "recursive"
	KindText      Kind = "text"
)

// DefaultMaxDepth bounds recursive crawls when the caller omits a depth.
const DefaultMaxDepth = 2

// ErrUnsupportedKind is returned for unknown job kinds.
var ErrUnsupportedKind = errors.New("unsupported ingestion kind")

// TaskType is the task_type recorded for jobs of this kind.
func (k Kind) TaskType() string {
	switch k {
	case KindWebpage:
		return "webpage_ingest"
	case KindWebpages:
		return "webpages_ingest"
	case KindSitemap:
		return "sitemap_ingest"
	case KindRecursive:
		return "recursive_crawl"
	case KindText:
		return "text_ingest"
	default:
		return string(k)
	}
}

// Job is one queued ingestion request.
type Job struct {
	TaskID     string
	Kind       Kind
	URL        string
	URLs       []string
	SitemapURL string
	FilterURLs []string
	BaseURL    string
	MaxDepth   int
	Documents  []Document
}

// Validate checks the fields required by the job's kind.
func (j Job) Validate() error {
	switch j.Kind {
	case KindWebpage:
		return validateURL("url", j.URL)
	case KindWebpages:
		if len(j.URLs) == 0 {
			return errors.New("urls must not be empty")
		}
		for i, u := range j.URLs {
			if err := validateURL(fmt.Sprintf("urls[%d]", i), u); err != nil {
				return err
			}
		}
		return nil
	case KindSitemap:
		return validateURL("sitemap_url", j.SitemapURL)
	case KindRecursive:
		if j.MaxDepth < 0 {
			return errors.New("max_depth must be >= 0")
		}
		return validateURL("base_url", j.BaseURL)
	case KindText:
		if len(j.Documents) == 0 {
			return errors.New("documents must not be empty")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, j.Kind)
	}
}

func validateURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}
