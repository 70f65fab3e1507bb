package domain

import "github.com/jervis-ai/jervis/internal/ids"

// IndexingRules constrains which files a connection's indexer walks for a
// project: glob patterns (matched against the repository-relative path) and
// a byte ceiling above which a file is skipped regardless of pattern.
type IndexingRules struct {
	IncludeGlobs     []string
	ExcludeGlobs     []string
	MaxFileSizeBytes int64
}

// Project belongs to exactly one Client.
type Project struct {
	ID       ids.ProjectID
	ClientID ids.ClientID

	Name  string
	Rules IndexingRules

	// PlatformLanguages overrides the client's platform language map for
	// this project only.
	PlatformLanguages map[string]string
}

// NewProject constructs a Project owned by client.
func NewProject(clientID ids.ClientID, name string, rules IndexingRules) *Project {
	return &Project{
		ID:                ids.NewProjectID(),
		ClientID:          clientID,
		Name:              name,
		Rules:             rules,
		PlatformLanguages: map[string]string{},
	}
}

// LanguageFor resolves the effective language for platform, preferring the
// project-level override, then falling back to client.
func (p *Project) LanguageFor(platform string, client *Client) string {
	if lang, ok := p.PlatformLanguages[platform]; ok && lang != "" {
		return lang
	}
	return client.LanguageFor(platform)
}
