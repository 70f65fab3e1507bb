package domain

import "github.com/jervis-ai/jervis/internal/ids"

// ConnectionProvider identifies the external system a Connection talks to.
type ConnectionProvider string

const (
	ConnectionProviderAtlassian ConnectionProvider = "atlassian"
	ConnectionProviderGitLab    ConnectionProvider = "gitlab"
	ConnectionProviderEmail     ConnectionProvider = "email"
)

// ConnectionCapability names one thing a Connection can be polled/indexed
// for; a single Connection may expose more than one.
type ConnectionCapability string

const (
	CapabilityBugtracker ConnectionCapability = "bugtracker"
	CapabilityWiki       ConnectionCapability = "wiki"
	CapabilityRepository ConnectionCapability = "repository"
	CapabilityMail       ConnectionCapability = "mail"
)

// ConnectionScope controls whether a Connection is visible to every project
// under a client, or scoped to a single project.
type ConnectionScope string

const (
	ConnectionScopeClient  ConnectionScope = "client"
	ConnectionScopeProject ConnectionScope = "project"
)

// Connection configures access to one external source.
type Connection struct {
	ID       ids.ConnectionID
	ClientID ids.ClientID

	// ProjectID is set only when Scope is ConnectionScopeProject.
	ProjectID *ids.ProjectID

	Provider     ConnectionProvider
	BaseURL      string
	Credentials  map[string]string
	Capabilities map[ConnectionCapability]struct{}
	Scope        ConnectionScope
}

// HasCapability reports whether the connection exposes cap.
func (c *Connection) HasCapability(cap ConnectionCapability) bool {
	_, ok := c.Capabilities[cap]
	return ok
}

// AppliesToProject reports whether the connection is visible when resolving
// sources for projectID: client-scoped connections apply to every project
// under the same client, project-scoped connections only to their own
// project.
func (c *Connection) AppliesToProject(projectID ids.ProjectID) bool {
	if c.Scope == ConnectionScopeClient {
		return true
	}
	return c.ProjectID != nil && *c.ProjectID == projectID
}

// NewConnection constructs a client-scoped or project-scoped Connection
// depending on whether projectID is non-nil.
func NewConnection(clientID ids.ClientID, projectID *ids.ProjectID, provider ConnectionProvider, baseURL string, caps ...ConnectionCapability) *Connection {
	scope := ConnectionScopeClient
	if projectID != nil {
		scope = ConnectionScopeProject
	}
	capSet := make(map[ConnectionCapability]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	return &Connection{
		ID:           ids.NewConnectionID(),
		ClientID:     clientID,
		ProjectID:    projectID,
		Provider:     provider,
		BaseURL:      baseURL,
		Credentials:  map[string]string{},
		Capabilities: capSet,
		Scope:        scope,
	}
}
