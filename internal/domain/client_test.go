package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/domain"
)

func TestNewClientRejectsInvalidSlug(t *testing.T) {
	_, err := domain.NewClient("Not Valid!", "en")
	require.Error(t, err)
}

func TestClientLanguageForFallsBackToDefault(t *testing.T) {
	c, err := domain.NewClient("acme", "en")
	require.NoError(t, err)
	require.Equal(t, "en", c.LanguageFor("jira"))

	c.PlatformLanguages["jira"] = "de"
	require.Equal(t, "de", c.LanguageFor("jira"))
	require.Equal(t, "en", c.LanguageFor("confluence"))
}

func TestConnectionScopeVisibility(t *testing.T) {
	client, err := domain.NewClient("acme", "en")
	require.NoError(t, err)
	project := domain.NewProject(client.ID, "web", domain.IndexingRules{})
	otherProject := domain.NewProject(client.ID, "mobile", domain.IndexingRules{})

	clientScoped := domain.NewConnection(client.ID, nil, domain.ConnectionProviderAtlassian, "https://acme.atlassian.net", domain.CapabilityWiki)
	require.True(t, clientScoped.AppliesToProject(project.ID))
	require.True(t, clientScoped.AppliesToProject(otherProject.ID))

	projectScoped := domain.NewConnection(client.ID, &project.ID, domain.ConnectionProviderGitLab, "https://gitlab.com", domain.CapabilityRepository)
	require.True(t, projectScoped.AppliesToProject(project.ID))
	require.False(t, projectScoped.AppliesToProject(otherProject.ID))
	require.True(t, projectScoped.HasCapability(domain.CapabilityRepository))
	require.False(t, projectScoped.HasCapability(domain.CapabilityMail))
}
