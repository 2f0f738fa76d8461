// Package catalog builds the two repository inventories the reconciliation
// joins: the host catalog (every repository the GitLab token can reach) and
// the target catalog (every Snyk tracking target), both keyed by canonical
// repo key. Builders are mutable accumulators; Freeze produces the read-only
// catalogs handed to the engine.
package catalog

import (
	"errors"
	"sort"

	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/gitlab"
	"github.com/sw33tLie/scadrift/pkg/paging"
	"github.com/sw33tLie/scadrift/pkg/repourl"
	"github.com/sw33tLie/scadrift/pkg/snyk"
)

// HostEntry is one repository known to the hosting platform.
type HostEntry struct {
	ID               int64
	DefaultBranch    string
	FullPath         string
	WebURL           string
	NormalizedWebURL string
}

// ScanTarget is one tracking target registered with the scanner.
type ScanTarget struct {
	OrgID           string
	TargetID        string
	DisplayName     string
	SourceURL       string
	IntegrationType string
	Identity        *repourl.RepoIdentity // nil when the source URL was unresolvable
}

// HostCatalog is the frozen host-repository inventory.
type HostCatalog struct {
	entries map[string]HostEntry
}

func (c *HostCatalog) Get(key string) (HostEntry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

func (c *HostCatalog) Len() int { return len(c.entries) }

// Keys returns every canonical key in lexicographic order.
func (c *HostCatalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type HostCatalogBuilder struct {
	entries map[string]HostEntry
}

func NewHostCatalogBuilder() *HostCatalogBuilder {
	return &HostCatalogBuilder{entries: map[string]HostEntry{}}
}

func (b *HostCatalogBuilder) Add(key string, entry HostEntry) {
	b.entries[key] = entry
}

func (b *HostCatalogBuilder) Freeze() *HostCatalog {
	frozen := make(map[string]HostEntry, len(b.entries))
	for k, v := range b.entries {
		frozen[k] = v
	}
	return &HostCatalog{entries: frozen}
}

// TargetCatalog is the frozen scan-target inventory. Targets whose source
// reference could not be resolved live in a separate bucket and never take
// part in the join.
type TargetCatalog struct {
	entries      map[string][]ScanTarget
	unresolvable []ScanTarget
	failedOrgs   map[string]string // org id -> reason
}

func (c *TargetCatalog) Targets(key string) []ScanTarget { return c.entries[key] }

func (c *TargetCatalog) Len() int { return len(c.entries) }

func (c *TargetCatalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unresolvable returns the targets with no resolvable repository reference,
// in discovery order.
func (c *TargetCatalog) Unresolvable() []ScanTarget { return c.unresolvable }

// FailedOrgs maps organizations that produced zero progress to the reason.
func (c *TargetCatalog) FailedOrgs() map[string]string { return c.failedOrgs }

type TargetCatalogBuilder struct {
	entries      map[string][]ScanTarget
	unresolvable []ScanTarget
	failedOrgs   map[string]string
}

func NewTargetCatalogBuilder() *TargetCatalogBuilder {
	return &TargetCatalogBuilder{
		entries:    map[string][]ScanTarget{},
		failedOrgs: map[string]string{},
	}
}

// Add appends the target to the key's list. Multiple targets may map to the
// same repository (tracked from several orgs or integrations); entries are
// never overwritten.
func (b *TargetCatalogBuilder) Add(key string, t ScanTarget) {
	b.entries[key] = append(b.entries[key], t)
}

func (b *TargetCatalogBuilder) AddUnresolvable(t ScanTarget) {
	b.unresolvable = append(b.unresolvable, t)
}

func (b *TargetCatalogBuilder) MarkOrgFailed(orgID, reason string) {
	b.failedOrgs[orgID] = reason
}

func (b *TargetCatalogBuilder) Freeze() *TargetCatalog {
	frozen := make(map[string][]ScanTarget, len(b.entries))
	for k, v := range b.entries {
		frozen[k] = append([]ScanTarget(nil), v...)
	}
	return &TargetCatalog{
		entries:      frozen,
		unresolvable: append([]ScanTarget(nil), b.unresolvable...),
		failedOrgs:   b.failedOrgs,
	}
}

// BuildHostCatalog lists every non-archived repository reachable under the
// membership filter and keys it by canonical repo key.
func BuildHostCatalog(gl *gitlab.Client) (*HostCatalog, error) {
	repos, err := gl.ListProjects()
	if err != nil {
		return nil, err
	}

	builder := NewHostCatalogBuilder()
	for _, repo := range repos {
		key := repourl.CanonicalKey(gl.Host(), repo.PathWithNamespace)
		builder.Add(key, HostEntry{
			ID:               repo.ID,
			DefaultBranch:    repo.DefaultBranch,
			FullPath:         repo.PathWithNamespace,
			WebURL:           repo.WebURL,
			NormalizedWebURL: repourl.NormalizeWebURL(repo.WebURL),
		})
	}
	return builder.Freeze(), nil
}

// BuildTargetCatalog fetches the targets of every given organization,
// restricted to the given integration types, and groups them by canonical
// repo key. Failures local to one organization are recorded and never abort
// the build.
func BuildTargetCatalog(sn *snyk.Client, orgIDs []string, sourceTypes []string) (*TargetCatalog, error) {
	builder := NewTargetCatalogBuilder()

	for _, orgID := range orgIDs {
		targets, err := sn.TargetsForOrg(orgID, sourceTypes)
		if err != nil {
			// Failures local to one organization (denied access, malformed
			// responses) never abort the build.
			if errors.Is(err, paging.ErrNotAccessible) {
				utils.Log.Warn("Organization ", orgID, " is not accessible, skipping: ", err)
			} else {
				utils.Log.Warn("Could not list targets for organization ", orgID, ": ", err)
			}
			builder.MarkOrgFailed(orgID, err.Error())
			continue
		}

		for _, t := range targets {
			st := ScanTarget{
				OrgID:           orgID,
				TargetID:        t.ID,
				DisplayName:     t.DisplayName,
				SourceURL:       t.URL,
				IntegrationType: t.SourceType,
			}

			if t.URL == "" {
				// CLI-style targets carry no repository reference. Kept,
				// never counted as matched or left-only.
				builder.AddUnresolvable(st)
				continue
			}

			identity := repourl.Resolve(t.URL)
			if identity == nil {
				utils.Log.Debug("Unresolvable target URL ", t.URL, " (target ", t.ID, ")")
				builder.AddUnresolvable(st)
				continue
			}
			st.Identity = identity

			if identity.Platform != repourl.PlatformGitLab {
				utils.Log.Debug("Target ", t.ID, " resolves to ", identity.Platform, ", excluded from the GitLab join")
				continue
			}
			builder.Add(identity.CanonicalKey(), st)
		}
	}

	return builder.Freeze(), nil
}
