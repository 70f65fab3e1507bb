// Package domain defines the persisted entities Jervis reasons over: tenants
// and their connections, the indexing dedup ledger, and the plan/step graph
// a task is executed as. Types here are plain data plus the invariant-
// enforcing mutation methods; persistence and business-logic orchestration
// live in the component packages that consume this package.
package domain

import (
	"fmt"
	"regexp"

	"github.com/jervis-ai/jervis/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Client is a top-level tenant.
type Client struct {
	ID ids.ClientID

	// Slug uniquely names the client in URLs and logs; must match
	// [a-z0-9-]+.
	Slug string

	// DefaultLanguage is used when neither the project nor a per-platform
	// override specifies one.
	DefaultLanguage string

	// PlatformLanguages overrides DefaultLanguage per source platform (for
	// example "jira" -> "en", "confluence" -> "de").
	PlatformLanguages map[string]string
}

// NewClient constructs a Client, validating Slug against the required
// [a-z0-9-]+ pattern.
func NewClient(slug, defaultLanguage string) (*Client, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("client slug %q must match [a-z0-9-]+", slug)
	}
	return &Client{
		ID:                ids.NewClientID(),
		Slug:              slug,
		DefaultLanguage:   defaultLanguage,
		PlatformLanguages: map[string]string{},
	}, nil
}

// LanguageFor resolves the effective language for a given source platform,
// falling back to DefaultLanguage when no override is registered.
func (c *Client) LanguageFor(platform string) string {
	if lang, ok := c.PlatformLanguages[platform]; ok && lang != "" {
		return lang
	}
	return c.DefaultLanguage
}
