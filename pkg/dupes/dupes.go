// Package dupes flags redundant tracking entries inside one organization's
// project list: projects under the same target whose names reduce to the same
// sub-identifier, of which only the most recently created one is kept.
package dupes

import (
	"path"
	"sort"
	"strings"

	"github.com/sw33tLie/scadrift/pkg/snyk"
)

const StaleReason = "newer version exists"

// Policy controls the grouping heuristic. The default assumes the first
// separator delimits a stable unique identifier and that recency picks the
// canonical entry; unusual naming conventions may want a different separator.
type Policy struct {
	Separator string
}

func DefaultPolicy() Policy {
	return Policy{Separator: ":"}
}

// StaleProject is a flagged duplicate with a back-reference to the canonical
// member of its group.
type StaleProject struct {
	ProjectID        string
	ProjectName      string
	UniqueIdentifier string
	Reason           string
	DuplicateOf      string
	DuplicateOfName  string
	OrgID            string
	TargetID         string
	Created          string
	DuplicateCreated string
	ProjectType      string
}

// Group is one (target, identifier) cluster with more than one member.
type Group struct {
	TargetID         string
	UniqueIdentifier string
	CanonicalID      string
	CanonicalName    string
	CanonicalCreated string
	Stale            []StaleProject
}

// Detect groups an organization's projects by (target id, normalized
// sub-identifier) and flags every member but the newest as stale. Projects
// without the separator in their name, or without a resolvable target, are
// excluded entirely.
func Detect(projects []snyk.Project, policy Policy) []Group {
	if policy.Separator == "" {
		policy = DefaultPolicy()
	}

	type groupKey struct {
		targetID string
		ident    string
	}
	groups := map[groupKey][]snyk.Project{}

	for _, p := range projects {
		if p.TargetID == "" || !strings.Contains(p.Name, policy.Separator) {
			continue
		}
		ident := normalizeIdentifier(p.Name[strings.Index(p.Name, policy.Separator)+len(policy.Separator):])
		key := groupKey{targetID: p.TargetID, ident: ident}
		groups[key] = append(groups[key], p)
	}

	var out []Group
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		// Newest first; RFC 3339 timestamps sort lexicographically.
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Created > members[j].Created
		})

		canonical := members[0]
		g := Group{
			TargetID:         key.targetID,
			UniqueIdentifier: key.ident,
			CanonicalID:      canonical.ID,
			CanonicalName:    canonical.Name,
			CanonicalCreated: canonical.Created,
		}
		for _, m := range members[1:] {
			g.Stale = append(g.Stale, StaleProject{
				ProjectID:        m.ID,
				ProjectName:      m.Name,
				UniqueIdentifier: key.ident,
				Reason:           StaleReason,
				DuplicateOf:      canonical.ID,
				DuplicateOfName:  canonical.Name,
				OrgID:            m.OrgID,
				TargetID:         m.TargetID,
				Created:          m.Created,
				DuplicateCreated: canonical.Created,
				ProjectType:      m.Type,
			})
		}
		out = append(out, g)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].UniqueIdentifier < out[j].UniqueIdentifier
	})
	return out
}

// normalizeIdentifier collapses redundant relative-path segments so spellings
// like "./a", "a", and "../x/../a" group together. Leading parent segments
// are dropped because project names never escape the repository root.
func normalizeIdentifier(ident string) string {
	ident = strings.TrimSpace(ident)
	cleaned := path.Clean(strings.ReplaceAll(ident, "\\", "/"))
	for strings.HasPrefix(cleaned, "../") {
		cleaned = strings.TrimPrefix(cleaned, "../")
	}
	if cleaned == ".." || cleaned == "." {
		return ""
	}
	return cleaned
}
