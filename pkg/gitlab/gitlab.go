// Package gitlab is a client for the GitLab v4 API, covering the repository
// catalog and file-level operations the reconciliation needs.
package gitlab

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/sw33tLie/scadrift/pkg/paging"
	"github.com/sw33tLie/scadrift/pkg/whttp"
)

const DefaultBaseURL = "https://gitlab.com"

type Client struct {
	BaseURL string
	Token   string
	HTTP    *retryablehttp.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
	}
}

// Host returns the instance host as used in canonical repo keys.
func (c *Client) Host() string {
	host := strings.TrimPrefix(c.BaseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

func (c *Client) headers() []whttp.WHTTPHeader {
	if c.Token == "" {
		return nil
	}
	return []whttp.WHTTPHeader{{Name: "Authorization", Value: "Bearer " + c.Token}}
}

// Repo is one repository as listed by the instance.
type Repo struct {
	ID                int64
	DefaultBranch     string
	PathWithNamespace string
	WebURL            string
}

// TreeEntry is one entry of a repository tree listing.
type TreeEntry struct {
	Path string
	Type string // blob or tree
}

// ListProjects lists every non-archived repository the token is a member
// of, walking the X-Next-Page pagination.
func (c *Client) ListProjects() ([]Repo, error) {
	items, err := paging.FetchAll(paging.Request{
		Client: c.HTTP,
		URL:    c.BaseURL + "/api/v4/projects",
		Params: map[string]string{
			"membership": "true",
			"simple":     "true",
			"archived":   "false",
			"per_page":   "100",
			"order_by":   "path",
		},
		Headers: c.headers(),
		Style:   paging.StylePageHeader,
	})
	if err != nil {
		return nil, err
	}

	repos := make([]Repo, 0, len(items))
	for _, item := range items {
		fullPath := gjson.Get(item.Raw, "path_with_namespace").Str
		if fullPath == "" {
			continue
		}
		repos = append(repos, Repo{
			ID:                gjson.Get(item.Raw, "id").Int(),
			DefaultBranch:     gjson.Get(item.Raw, "default_branch").Str,
			PathWithNamespace: fullPath,
			WebURL:            gjson.Get(item.Raw, "web_url").Str,
		})
	}
	return repos, nil
}

// DefaultBranch looks up the default branch of a repository, falling back to
// "main" when the repository cannot be read.
func (c *Client) DefaultBranch(pathWithNamespace string) string {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.BaseURL + "/api/v4/projects/" + encodeProjectPath(pathWithNamespace),
		Headers: c.headers(),
	}, c.HTTP)
	if err != nil || res.StatusCode != http.StatusOK {
		return "main"
	}
	if branch := gjson.Get(res.BodyString, "default_branch").Str; branch != "" {
		return branch
	}
	return "main"
}

// FileExists checks whether a file exists at a path on the given ref.
// A 404 means false; any other non-success status is a hard error, never
// silently treated as nonexistent.
func (c *Client) FileExists(pathWithNamespace, filePath, ref string) (bool, error) {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.BaseURL + "/api/v4/projects/" + encodeProjectPath(pathWithNamespace) + "/repository/files/" + encodeFilePath(filePath),
		Params:  map[string]string{"ref": ref},
		Headers: c.headers(),
	}, c.HTTP)
	if err != nil {
		return false, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("file check %s@%s in %s: unexpected status %d", filePath, ref, pathWithNamespace, res.StatusCode)
	}
}

// FileContent fetches the raw content of a file at a ref.
func (c *Client) FileContent(pathWithNamespace, filePath, ref string) (string, error) {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
		Method:  "GET",
		URL:     c.BaseURL + "/api/v4/projects/" + encodeProjectPath(pathWithNamespace) + "/repository/files/" + encodeFilePath(filePath) + "/raw",
		Params:  map[string]string{"ref": ref},
		Headers: c.headers(),
	}, c.HTTP)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file fetch %s@%s in %s: unexpected status %d", filePath, ref, pathWithNamespace, res.StatusCode)
	}
	return res.BodyString, nil
}

// RepositoryTree lists the full recursive file tree of a repository at a ref.
func (c *Client) RepositoryTree(pathWithNamespace, ref string) ([]TreeEntry, error) {
	items, err := paging.FetchAll(paging.Request{
		Client: c.HTTP,
		URL:    c.BaseURL + "/api/v4/projects/" + encodeProjectPath(pathWithNamespace) + "/repository/tree",
		Params: map[string]string{
			"ref":       ref,
			"recursive": "true",
			"per_page":  "100",
		},
		Headers: c.headers(),
		Style:   paging.StylePageHeader,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]TreeEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, TreeEntry{
			Path: gjson.Get(item.Raw, "path").Str,
			Type: gjson.Get(item.Raw, "type").Str,
		})
	}
	return entries, nil
}

// encodeProjectPath URL-encodes a namespaced project path the way the v4 API
// expects ("group/sub/repo" -> "group%2Fsub%2Frepo").
func encodeProjectPath(pathWithNamespace string) string {
	return url.PathEscape(pathWithNamespace)
}

func encodeFilePath(filePath string) string {
	return url.PathEscape(filePath)
}
