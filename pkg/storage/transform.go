package storage

import (
	"github.com/sw33tLie/scadrift/pkg/reconcile"
)

// FlattenResult converts a reconciliation result into the normalized finding
// rows RecordRun persists.
func FlattenResult(res *reconcile.Result) []Finding {
	var findings []Finding

	for _, item := range res.LeftOnly {
		for _, t := range item.Targets {
			findings = append(findings, Finding{
				RepoKey: item.Key,
				Type:    "stale_target",
				Detail:  t.TargetID,
				OrgID:   t.OrgID,
			})
		}
	}
	for _, item := range res.RightOnly {
		findings = append(findings, Finding{
			RepoKey: item.Key,
			Type:    "untracked_repo",
		})
	}
	for _, m := range res.Matched {
		for _, f := range m.StaleFiles {
			findings = append(findings, Finding{
				RepoKey: m.Key,
				Type:    "stale_file",
				Detail:  f.Path,
				OrgID:   f.OrgID,
			})
		}
		for _, f := range m.UntrackedSupported {
			findings = append(findings, Finding{
				RepoKey: m.Key,
				Type:    "untracked_file",
				Detail:  f.Path,
			})
		}
	}
	for _, g := range res.Duplicates {
		for _, s := range g.Stale {
			findings = append(findings, Finding{
				RepoKey: g.TargetID,
				Type:    "duplicate_project",
				Detail:  s.ProjectName,
				OrgID:   s.OrgID,
			})
		}
	}
	for _, t := range res.Unresolvable {
		findings = append(findings, Finding{
			RepoKey: "unresolvable",
			Type:    "unresolvable_target",
			Detail:  t.TargetID,
			OrgID:   t.OrgID,
		})
	}

	return findings
}
