// Package paging implements generic acquisition of paged, versioned REST
// collections. One fetch walks every page of a resource, concatenating the
// page payloads, with API-version fallback for endpoints whose availability
// differs per organization.
package paging

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/whttp"
)

// ErrNotAccessible means the resource answered "not found" or
// "forbidden/unauthenticated" under every attempted API version. It is
// distinct from a successful call that returned zero items.
var ErrNotAccessible = errors.New("resource not accessible under any attempted API version")

// errVersionRejected is the internal signal that the current version should
// be abandoned and the next one tried.
var errVersionRejected = errors.New("api version rejected")

// Style selects how the fetcher discovers further pages.
type Style int

const (
	// StyleNextLink follows a next link in the response metadata. The link
	// may be absolute, host-relative, or path-relative.
	StyleNextLink Style = iota
	// StylePageHeader follows a response header carrying the next page number.
	StylePageHeader
)

// Request describes one paged collection resource.
type Request struct {
	Client  *retryablehttp.Client
	URL     string
	Params  map[string]string
	Headers []whttp.WHTTPHeader

	// Versions is the ordered list of protocol versions to try. Empty means
	// the resource is unversioned.
	Versions []string

	Style Style

	// ItemsPath is the gjson path of the page payload array ("data" for
	// Snyk). Empty means the whole body is the array (GitLab).
	ItemsPath string

	// NextLinkPath is the gjson path of the next link for StyleNextLink.
	// Defaults to "links.next".
	NextLinkPath string

	// PageHeader is the response header carrying the next page number for
	// StylePageHeader. Defaults to "X-Next-Page".
	PageHeader string
}

// FetchAll returns the concatenation of every page of the resource, in page
// order. Transient-fault exhaustion mid-pagination preserves what was
// already accumulated. Exhausting every version returns ErrNotAccessible.
func FetchAll(req Request) ([]gjson.Result, error) {
	versions := req.Versions
	if len(versions) == 0 {
		versions = []string{""}
	}

	for _, version := range versions {
		items, err := fetchAllPages(req, version)
		if errors.Is(err, errVersionRejected) {
			utils.Log.Debug("Version ", version, " rejected for ", req.URL, ", trying next")
			continue
		}
		return items, err
	}
	return nil, ErrNotAccessible
}

func fetchAllPages(req Request, version string) ([]gjson.Result, error) {
	itemsPath := req.ItemsPath
	nextLinkPath := req.NextLinkPath
	if nextLinkPath == "" {
		nextLinkPath = "links.next"
	}
	pageHeader := req.PageHeader
	if pageHeader == "" {
		pageHeader = "X-Next-Page"
	}

	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	if version != "" {
		params["version"] = version
	}

	var items []gjson.Result
	currentURL := req.URL

	for {
		res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{
			Method:  "GET",
			URL:     currentURL,
			Params:  params,
			Headers: req.Headers,
		}, req.Client)
		if err != nil {
			// Transient retries are exhausted. Keep what we have.
			utils.Log.Warn("Page fetch aborted for ", currentURL, ": ", err, " (keeping ", len(items), " items)")
			return items, nil
		}

		switch res.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
			return nil, errVersionRejected
		default:
			return items, fmt.Errorf("unexpected status %d fetching %s", res.StatusCode, currentURL)
		}

		if !gjson.Valid(res.BodyString) {
			if res.HTTPTitle != "" {
				return items, fmt.Errorf("non-JSON response from %s (title: %q)", currentURL, res.HTTPTitle)
			}
			return items, fmt.Errorf("non-JSON response from %s", currentURL)
		}

		var page gjson.Result
		if itemsPath == "" {
			page = gjson.Parse(res.BodyString)
		} else {
			page = gjson.Get(res.BodyString, itemsPath)
		}
		pageItems := page.Array()
		if len(pageItems) == 0 {
			break
		}
		items = append(items, pageItems...)

		switch req.Style {
		case StyleNextLink:
			next := gjson.Get(res.BodyString, nextLinkPath).Str
			if next == "" {
				return items, nil
			}
			absolute, err := absoluteNextURL(currentURL, next)
			if err != nil {
				return items, fmt.Errorf("bad next link %q from %s: %w", next, currentURL, err)
			}
			// The next link carries its own full query string.
			currentURL = absolute
			params = nil
		case StylePageHeader:
			next := res.Headers.Get(pageHeader)
			if next == "" {
				return items, nil
			}
			if params == nil {
				params = map[string]string{}
			}
			params["page"] = next
		}
	}

	return items, nil
}

// absoluteNextURL normalizes a next link that may be absolute, host-relative
// ("/rest/orgs?..."), or path-relative, resolving it against the URL of the
// page that returned it.
func absoluteNextURL(current, next string) (string, error) {
	if strings.HasPrefix(next, "http://") || strings.HasPrefix(next, "https://") {
		return next, nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
