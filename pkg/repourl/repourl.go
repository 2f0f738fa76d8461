// Package repourl resolves the repository reference strings found in Snyk
// target records and GitLab project listings into a canonical identity.
// It is deliberately not a general-purpose VCS URL parser: it only knows the
// URL shapes those two systems actually emit.
package repourl

import (
	"regexp"
	"strings"
)

type Platform string

const (
	PlatformGitLab    Platform = "gitlab"
	PlatformGitHub    Platform = "github"
	PlatformBitbucket Platform = "bitbucket"
	PlatformLocal     Platform = "local"
	PlatformUnknown   Platform = "unknown"
)

const DefaultBranch = "main"

// RepoIdentity is the canonical identity of one repository reference.
// Immutable once built; downstream code never mutates it.
type RepoIdentity struct {
	Platform Platform
	Host     string
	Owner    string // may contain nested group segments ("group/subgroup")
	Repo     string
	Branch   string
	IsSSH    bool
	IsLocal  bool
}

// FullPath returns owner[/subgroup...]/repo.
func (id *RepoIdentity) FullPath() string {
	if id.Owner == "" {
		return id.Repo
	}
	return id.Owner + "/" + id.Repo
}

// CanonicalKey is the join key used across the whole reconciliation:
// host/full_path, case-preserving on the path, slashes trimmed.
// Local references use the filesystem path itself.
func (id *RepoIdentity) CanonicalKey() string {
	if id.IsLocal {
		return strings.TrimSuffix(id.Repo, "/")
	}
	return CanonicalKey(id.Host, id.FullPath())
}

// CanonicalKey builds a host/full_path join key. Path case is preserved
// because GitLab namespaces are case-sensitive; the host is not.
func CanonicalKey(host, fullPath string) string {
	return strings.ToLower(strings.Trim(host, "/")) + "/" + strings.Trim(fullPath, "/")
}

// matcher is one URL-shape strategy. Matchers are tried in a fixed priority
// order and the first non-nil result wins; overlapping patterns never race.
type matcher func(ref string) *RepoIdentity

var matchers = []matcher{
	matchLocal,
	matchSSH,
	matchGitHub,
	matchBitbucket,
	matchGitLabCompatible,
}

// Resolve parses a repository reference into a RepoIdentity, or returns nil
// when no known shape matches. Callers must route nil results to the
// unresolvable bucket rather than dropping them.
func Resolve(ref string) *RepoIdentity {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	for _, match := range matchers {
		if id := match(ref); id != nil {
			return id
		}
	}
	return nil
}

func matchLocal(ref string) *RepoIdentity {
	path := ""
	switch {
	case strings.HasPrefix(ref, "file://"):
		path = strings.TrimPrefix(ref, "file://")
	case strings.HasPrefix(ref, "/"):
		path = ref
	default:
		return nil
	}
	return &RepoIdentity{
		Platform: PlatformLocal,
		Repo:     path,
		Branch:   DefaultBranch,
		IsLocal:  true,
	}
}

var sshRe = regexp.MustCompile(`^([^@/:]+)@([^:/]+):(.+)$`)

func matchSSH(ref string) *RepoIdentity {
	m := sshRe.FindStringSubmatch(ref)
	if m == nil {
		return nil
	}
	host := strings.ToLower(m[2])
	path := strings.Trim(strings.TrimSuffix(m[3], ".git"), "/")
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return nil
	}
	return &RepoIdentity{
		Platform: platformForHost(host),
		Host:     host,
		Owner:    strings.Join(segments[:len(segments)-1], "/"),
		Repo:     segments[len(segments)-1],
		Branch:   DefaultBranch,
		IsSSH:    true,
	}
}

// github.com/owner/repo with an optional /tree/<branch> marker.
var githubRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)(?:/tree/([^/]+).*)?$`)

func matchGitHub(ref string) *RepoIdentity {
	m := githubRe.FindStringSubmatch(normalizeHTTP(ref))
	if m == nil {
		return nil
	}
	return httpsIdentity(PlatformGitHub, "github.com", m[1], m[2], m[3])
}

// bitbucket.org/owner/repo with an optional /src/<branch> marker.
var bitbucketRe = regexp.MustCompile(`^https://bitbucket\.org/([^/]+)/([^/]+?)(?:/src/([^/]+).*)?$`)

func matchBitbucket(ref string) *RepoIdentity {
	m := bitbucketRe.FindStringSubmatch(normalizeHTTP(ref))
	if m == nil {
		return nil
	}
	return httpsIdentity(PlatformBitbucket, "bitbucket.org", m[1], m[2], m[3])
}

// matchGitLabCompatible claims every remaining HTTPS shape: gitlab.com and
// custom GitLab-compatible instances, with arbitrarily nested subgroups.
// github.com and bitbucket.org are explicitly excluded so a miss in the
// host-specific matchers above cannot leak here.
var gitlabHostRe = regexp.MustCompile(`^https://([^/]+)/(.+)$`)

func matchGitLabCompatible(ref string) *RepoIdentity {
	m := gitlabHostRe.FindStringSubmatch(normalizeHTTP(ref))
	if m == nil {
		return nil
	}
	host := strings.ToLower(m[1])
	if host == "github.com" || host == "bitbucket.org" {
		return nil
	}

	path, branch := splitBranchMarker(strings.Trim(m[2], "/"))
	path = strings.TrimSuffix(path, ".git")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return nil
	}
	return &RepoIdentity{
		Platform: PlatformGitLab,
		Host:     host,
		Owner:    strings.Join(segments[:len(segments)-1], "/"),
		Repo:     segments[len(segments)-1],
		Branch:   branch,
	}
}

// splitBranchMarker strips GitLab branch markers from a project path and
// returns the path plus the referenced branch ("main" when absent).
// Recognized markers: /-/tree/<branch>, /-/blob/<branch>/..., /tree/<branch>.
func splitBranchMarker(path string) (string, string) {
	for _, marker := range []string{"/-/tree/", "/-/blob/", "/tree/", "/blob/"} {
		idx := strings.Index(path, marker)
		if idx < 0 {
			continue
		}
		rest := path[idx+len(marker):]
		branch := rest
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			branch = rest[:slash]
		}
		if branch == "" {
			branch = DefaultBranch
		}
		return path[:idx], branch
	}
	return path, DefaultBranch
}

func httpsIdentity(platform Platform, host, owner, repo, branch string) *RepoIdentity {
	if branch == "" {
		branch = DefaultBranch
	}
	return &RepoIdentity{
		Platform: platform,
		Host:     host,
		Owner:    owner,
		Repo:     strings.TrimSuffix(repo, ".git"),
		Branch:   branch,
	}
}

func platformForHost(host string) Platform {
	switch {
	case strings.Contains(host, "gitlab"):
		return PlatformGitLab
	case strings.Contains(host, "github"):
		return PlatformGitHub
	case strings.Contains(host, "bitbucket"):
		return PlatformBitbucket
	}
	// SSH remotes on custom hosts are almost always self-hosted GitLab in
	// the inventories we reconcile.
	return PlatformGitLab
}

// normalizeHTTP applies the scheme/suffix/slash normalization shared by all
// HTTPS matchers: http forced to https, host lowercased, trailing slash and
// .git suffix trimmed.
func normalizeHTTP(ref string) string {
	if strings.HasPrefix(ref, "http://") {
		ref = "https://" + strings.TrimPrefix(ref, "http://")
	}
	if !strings.HasPrefix(ref, "https://") {
		return ref
	}
	rest := strings.TrimPrefix(ref, "https://")
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "https://" + strings.ToLower(rest)
	}
	host := strings.ToLower(rest[:slash])
	path := strings.TrimSuffix(rest[slash:], "/")
	path = strings.TrimSuffix(path, ".git")
	return "https://" + host + path
}

// NormalizeWebURL normalizes an already-known web URL so two references to
// the same repository compare equal regardless of scheme, case of the host,
// a .git suffix, or a trailing slash.
func NormalizeWebURL(rawURL string) string {
	return normalizeHTTP(strings.TrimSpace(rawURL))
}

// SameWebURL reports whether two web URLs point at the same repository after
// normalization. Used to cross-match a Snyk target URL against a GitLab
// catalog entry when ids are unavailable.
func SameWebURL(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeWebURL(a) == NormalizeWebURL(b)
}
