// Package report renders a reconciliation result as a plain-text report.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sw33tLie/scadrift/pkg/reconcile"
)

// Caps keep reports readable on large estates; summary counts stay exact.
const (
	maxSectionItems   = 200
	maxTargetsPerRepo = 5
	maxFilesPerRepo   = 50
)

// Render produces the full text report.
func Render(res *reconcile.Result) string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 40)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "SCA COVERAGE DRIFT REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "Generated:", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "SUMMARY")
	fmt.Fprintln(&b, thin)
	fmt.Fprintln(&b, "Matched repos:", len(res.Matched))
	fmt.Fprintln(&b, "Tracked-only repos (stale targets):", len(res.LeftOnly))
	fmt.Fprintln(&b, "Host-only repos (no tracking):", len(res.RightOnly))
	fmt.Fprintln(&b, "Targets without repo URLs:", len(res.Unresolvable))
	fmt.Fprintln(&b, "Duplicate project groups:", len(res.Duplicates))
	for _, org := range sortedKeys(res.FailedOrgs) {
		fmt.Fprintf(&b, "Organization %s produced no data: %s\n", org, res.FailedOrgs[org])
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "TRACKED-ONLY (STALE TARGETS)")
	fmt.Fprintln(&b, thin)
	for i, item := range res.LeftOnly {
		if i >= maxSectionItems {
			fmt.Fprintf(&b, "... and %d more\n", len(res.LeftOnly)-maxSectionItems)
			break
		}
		fmt.Fprintln(&b, "Repo key:", item.Key)
		for j, t := range item.Targets {
			if j >= maxTargetsPerRepo {
				fmt.Fprintf(&b, "  ... and %d more targets\n", len(item.Targets)-maxTargetsPerRepo)
				break
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", t.DisplayName, t.SourceURL)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "HOST-ONLY (NO TRACKING)")
	fmt.Fprintln(&b, thin)
	for i, item := range res.RightOnly {
		if i >= maxSectionItems {
			fmt.Fprintf(&b, "... and %d more\n", len(res.RightOnly)-maxSectionItems)
			break
		}
		fmt.Fprintf(&b, "Repo key: %s  URL: %s\n", item.Key, item.Host.WebURL)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "TARGETS WITHOUT REPO URLS")
	fmt.Fprintln(&b, thin)
	for i, t := range res.Unresolvable {
		if i >= maxSectionItems {
			fmt.Fprintf(&b, "... and %d more\n", len(res.Unresolvable)-maxSectionItems)
			break
		}
		fmt.Fprintf(&b, "Target: %s (org: %s, type: %s)\n", t.DisplayName, t.OrgID, t.IntegrationType)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "DUPLICATE PROJECTS")
	fmt.Fprintln(&b, thin)
	for _, g := range res.Duplicates {
		fmt.Fprintf(&b, "Target %s, identifier %q: keeping %s (created %s)\n", g.TargetID, g.UniqueIdentifier, g.CanonicalName, g.CanonicalCreated)
		for _, s := range g.Stale {
			fmt.Fprintf(&b, "  stale: %s (created %s, %s)\n", s.ProjectName, s.Created, s.Reason)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "MATCHED REPOSITORIES")
	fmt.Fprintln(&b, thin)
	for _, m := range res.Matched {
		fmt.Fprintln(&b, "Repo key:", m.Key)
		fmt.Fprintf(&b, "  Tracked files: %d  Stale files: %d  Supported files: %d\n", len(m.TrackedFiles), len(m.StaleFiles), m.SupportedCount)
		fileList(&b, "  Tracked files:", m.TrackedFiles, "+")
		fileList(&b, "  Stale files (declared but missing):", m.StaleFiles, "-")
		if len(m.UntrackedSupported) > 0 {
			fmt.Fprintln(&b, "  Supported files not tracked:")
			for i, sf := range m.UntrackedSupported {
				if i >= maxSectionItems {
					fmt.Fprintf(&b, "    ... and %d more\n", len(m.UntrackedSupported)-maxSectionItems)
					break
				}
				fmt.Fprintf(&b, "    - %s (%s)\n", sf.Path, sf.Type)
			}
		}
		fmt.Fprintln(&b)
	}

	return b.String()
}

func fileList(b *strings.Builder, title string, files []reconcile.FileDetail, marker string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintln(b, title)
	for i, f := range files {
		if i >= maxFilesPerRepo {
			fmt.Fprintf(b, "    ... and %d more\n", len(files)-maxFilesPerRepo)
			break
		}
		fmt.Fprintf(b, "    %s %s", marker, f.Path)
		if f.ProjectName != "" {
			fmt.Fprintf(b, " (project: %s, org: %s)", f.ProjectName, f.OrgID)
		}
		fmt.Fprintln(b)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
