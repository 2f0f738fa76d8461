// Package snyk is a minimal client for the Snyk REST API, covering the
// resources the reconciliation needs: organizations, targets, and projects.
package snyk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/paging"
	"github.com/sw33tLie/scadrift/pkg/repourl"
	"github.com/sw33tLie/scadrift/pkg/whttp"
)

const DefaultBaseURL = "https://api.snyk.io/rest"

// DefaultVersions is the ordered API-version fallback policy. Newer versions
// are tried first; 404/401/403 responses push the fetch down the list because
// endpoint availability differs per organization.
var DefaultVersions = []string{"2024-10-15", "2024-09-04", "2023-05-29", "2023-06-18"}

type Client struct {
	BaseURL  string
	Token    string
	Versions []string
	HTTP     *retryablehttp.Client
}

func NewClient(token string) *Client {
	return &Client{
		BaseURL:  DefaultBaseURL,
		Token:    token,
		Versions: DefaultVersions,
	}
}

func (c *Client) headers() []whttp.WHTTPHeader {
	return []whttp.WHTTPHeader{
		{Name: "Authorization", Value: "token " + c.Token},
		{Name: "Content-Type", Value: "application/json"},
	}
}

type Org struct {
	ID   string
	Name string
}

type Target struct {
	ID          string
	OrgID       string
	DisplayName string
	URL         string
	SourceType  string
}

// Project is one declared tracking entry under a target. Fields mirror the
// attributes the API may or may not populate; absent attributes stay empty.
type Project struct {
	ID       string
	OrgID    string
	TargetID string
	Name     string
	Type     string
	Created  string // RFC 3339, sortable as-is
	Root     string

	TargetFile      string
	TargetFilePath  string
	FilePath        string
	Path            string
	TargetFiles     []string
	TargetReference string
	URL             string
}

// FilePaths returns every file path the project declares, in attribute
// order. A project may declare zero, one, or many.
func (p *Project) FilePaths() []string {
	var paths []string
	for _, fp := range []string{p.TargetFile, p.TargetFilePath, p.FilePath, p.Path} {
		if fp != "" {
			paths = append(paths, fp)
		}
	}
	paths = append(paths, p.TargetFiles...)
	return paths
}

// Organizations lists every organization the token can access.
func (c *Client) Organizations() ([]Org, error) {
	items, err := paging.FetchAll(paging.Request{
		Client:    c.HTTP,
		URL:       c.BaseURL + "/orgs",
		Params:    map[string]string{"limit": "100"},
		Headers:   c.headers(),
		Versions:  c.Versions,
		Style:     paging.StyleNextLink,
		ItemsPath: "data",
	})
	if err != nil {
		return nil, err
	}
	return parseOrgs(items), nil
}

// GroupOrganizations lists the organizations of one group. A group that is
// not found or not authorized under any API version returns
// paging.ErrNotAccessible, distinct from an empty group.
func (c *Client) GroupOrganizations(groupID string) ([]Org, error) {
	items, err := paging.FetchAll(paging.Request{
		Client:    c.HTTP,
		URL:       c.BaseURL + "/groups/" + groupID + "/orgs",
		Params:    map[string]string{"limit": "100"},
		Headers:   c.headers(),
		Versions:  c.Versions,
		Style:     paging.StyleNextLink,
		ItemsPath: "data",
	})
	if err != nil {
		return nil, err
	}
	return parseOrgs(items), nil
}

func parseOrgs(items []gjson.Result) []Org {
	orgs := make([]Org, 0, len(items))
	for _, item := range items {
		orgs = append(orgs, Org{
			ID:   gjson.Get(item.Raw, "id").Str,
			Name: gjson.Get(item.Raw, "attributes.name").Str,
		})
	}
	return orgs
}

// ValidateOrganizationAccess checks that the organization answers under at
// least one API version. 401/403 is a definitive denial; 404 falls through
// to the next version.
func (c *Client) ValidateOrganizationAccess(orgID string) error {
	for _, version := range c.Versions {
		res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
			Method:  "GET",
			URL:     c.BaseURL + "/orgs/" + orgID,
			Params:  map[string]string{"version": version},
			Headers: c.headers(),
		}, c.HTTP)
		if err != nil {
			return err
		}
		switch res.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("organization %s: %w", orgID, paging.ErrNotAccessible)
		default:
			continue
		}
	}
	return fmt.Errorf("organization %s: %w", orgID, paging.ErrNotAccessible)
}

// TargetsForOrg lists the organization's targets restricted to the given
// integration source types (e.g. gitlab, cli).
func (c *Client) TargetsForOrg(orgID string, sourceTypes []string) ([]Target, error) {
	if err := c.ValidateOrganizationAccess(orgID); err != nil {
		return nil, err
	}

	params := map[string]string{"limit": "100"}
	if len(sourceTypes) > 0 {
		params["source_types"] = strings.Join(sourceTypes, ",")
	}
	items, err := paging.FetchAll(paging.Request{
		Client:    c.HTTP,
		URL:       c.BaseURL + "/orgs/" + orgID + "/targets",
		Params:    params,
		Headers:   c.headers(),
		Versions:  c.Versions,
		Style:     paging.StyleNextLink,
		ItemsPath: "data",
	})
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(items))
	for _, item := range items {
		targets = append(targets, Target{
			ID:          gjson.Get(item.Raw, "id").Str,
			OrgID:       orgID,
			DisplayName: gjson.Get(item.Raw, "attributes.display_name").Str,
			URL:         gjson.Get(item.Raw, "attributes.url").Str,
			SourceType:  gjson.Get(item.Raw, "attributes.type").Str,
		})
	}
	return targets, nil
}

// ProjectsForTarget lists the projects of one target. When the
// target-scoped endpoint is unavailable it falls back to the org-wide
// project listing filtered by the target relationship.
func (c *Client) ProjectsForTarget(orgID, targetID string) ([]Project, error) {
	items, err := paging.FetchAll(paging.Request{
		Client:    c.HTTP,
		URL:       c.BaseURL + "/orgs/" + orgID + "/targets/" + targetID + "/projects",
		Params:    map[string]string{"limit": "100"},
		Headers:   c.headers(),
		Versions:  c.Versions,
		Style:     paging.StyleNextLink,
		ItemsPath: "data",
	})
	if errors.Is(err, paging.ErrNotAccessible) {
		utils.Log.Debug("Target-scoped projects endpoint unavailable for ", targetID, ", filtering the org listing")
		return c.projectsForTargetFallback(orgID, targetID)
	}
	if err != nil {
		return nil, err
	}
	return parseProjects(items, orgID), nil
}

func (c *Client) projectsForTargetFallback(orgID, targetID string) ([]Project, error) {
	all, err := c.AllProjects(orgID)
	if err != nil {
		return nil, err
	}

	var projects []Project
	var unrelated []Project
	for _, p := range all {
		if p.TargetID == targetID {
			projects = append(projects, p)
		} else if p.TargetID == "" && p.URL != "" {
			unrelated = append(unrelated, p)
		}
	}
	if len(unrelated) == 0 {
		return projects, nil
	}

	// Old API versions omit the target relationship on projects. Cross-match
	// those by repository URL instead of dropping them.
	targetURL, err := c.TargetURL(orgID, targetID)
	if err != nil || targetURL == "" {
		utils.Log.Debug("No target URL for ", targetID, ", skipping URL cross-match")
		return projects, nil
	}
	for _, p := range unrelated {
		if repourl.SameWebURL(p.URL, targetURL) {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// AllProjects lists every project of an organization.
func (c *Client) AllProjects(orgID string) ([]Project, error) {
	items, err := paging.FetchAll(paging.Request{
		Client:    c.HTTP,
		URL:       c.BaseURL + "/orgs/" + orgID + "/projects",
		Params:    map[string]string{"limit": "100"},
		Headers:   c.headers(),
		Versions:  c.Versions,
		Style:     paging.StyleNextLink,
		ItemsPath: "data",
	})
	if err != nil {
		return nil, err
	}
	return parseProjects(items, orgID), nil
}

func parseProjects(items []gjson.Result, orgID string) []Project {
	projects := make([]Project, 0, len(items))
	for _, item := range items {
		p := Project{
			ID:       gjson.Get(item.Raw, "id").Str,
			OrgID:    orgID,
			Name:     gjson.Get(item.Raw, "attributes.name").Str,
			Type:     gjson.Get(item.Raw, "attributes.type").Str,
			Created:  gjson.Get(item.Raw, "attributes.created").Str,
			Root:     gjson.Get(item.Raw, "attributes.root").Str,
			TargetID: gjson.Get(item.Raw, "relationships.target.data.id").Str,

			TargetFile:      gjson.Get(item.Raw, "attributes.target_file").Str,
			TargetFilePath:  gjson.Get(item.Raw, "attributes.target_file_path").Str,
			FilePath:        gjson.Get(item.Raw, "attributes.file_path").Str,
			Path:            gjson.Get(item.Raw, "attributes.path").Str,
			TargetReference: gjson.Get(item.Raw, "attributes.target_reference").Str,
			URL:             gjson.Get(item.Raw, "attributes.url").Str,
		}
		if p.TargetID == "" {
			p.TargetID = gjson.Get(item.Raw, "attributes.target_id").Str
		}
		for _, tf := range gjson.Get(item.Raw, "attributes.target_files").Array() {
			if tf.Str != "" {
				p.TargetFiles = append(p.TargetFiles, tf.Str)
			}
		}
		projects = append(projects, p)
	}
	return projects
}

// TargetURL fetches the source URL of one target.
func (c *Client) TargetURL(orgID, targetID string) (string, error) {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.BaseURL + "/orgs/" + orgID + "/targets/" + targetID,
		Params:  map[string]string{"version": c.primaryVersion()},
		Headers: c.headers(),
	}, c.HTTP)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("target %s: unexpected status %d", targetID, res.StatusCode)
	}
	return gjson.Get(res.BodyString, "data.attributes.url").Str, nil
}

// OrganizationName resolves an organization's display name, falling back to
// the id when the lookup fails.
func (c *Client) OrganizationName(orgID string) string {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.BaseURL + "/orgs/" + orgID,
		Params:  map[string]string{"version": c.primaryVersion()},
		Headers: c.headers(),
	}, c.HTTP)
	if err != nil || res.StatusCode != http.StatusOK {
		return orgID
	}
	if name := gjson.Get(res.BodyString, "data.attributes.name").Str; name != "" {
		return name
	}
	return orgID
}

// OrganizationURL builds the Snyk web UI URL of an organization.
func (c *Client) OrganizationURL(orgID string) string {
	return "https://app.snyk.io/org/" + orgSlug(c.OrganizationName(orgID)) + "/"
}

// ProjectURL builds the Snyk web UI URL of a project.
func (c *Client) ProjectURL(orgID, projectID string) string {
	return "https://app.snyk.io/org/" + orgSlug(c.OrganizationName(orgID)) + "/project/" + projectID
}

func orgSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	return strings.ReplaceAll(slug, "_", "-")
}

func (c *Client) primaryVersion() string {
	if len(c.Versions) > 0 {
		return c.Versions[0]
	}
	return DefaultVersions[0]
}
