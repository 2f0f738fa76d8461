// Package reconcile joins the host-repository catalog against the scan-target
// catalog and classifies every repository as matched, tracked-but-missing, or
// untracked, with per-repository file coverage for the matched set.
package reconcile

import (
	"sort"

	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/catalog"
	"github.com/sw33tLie/scadrift/pkg/dupes"
	"github.com/sw33tLie/scadrift/pkg/sca"
	"github.com/sw33tLie/scadrift/pkg/snyk"
)

// ProjectSource is the scanner-side capability the engine consumes.
// *snyk.Client satisfies it.
type ProjectSource interface {
	ProjectsForTarget(orgID, targetID string) ([]snyk.Project, error)
	AllProjects(orgID string) ([]snyk.Project, error)
}

// FileValidator is the host-side coverage capability. *sca.Validator
// satisfies it.
type FileValidator interface {
	ValidateFile(repo sca.RepoRef, filePath, root string) (sca.FileCheck, error)
	ScanRepository(repo sca.RepoRef) ([]sca.SupportedFile, error)
}

// FileDetail is one declared tracked file, resolved and checked.
type FileDetail struct {
	Path        string
	Exists      bool
	Root        string
	ProjectID   string
	ProjectName string
	OrgID       string
}

// MatchedRepo is one repository present in both catalogs.
type MatchedRepo struct {
	Key  string
	Host catalog.HostEntry

	// TrackedFiles exist at their declared path; StaleFiles are declared but
	// missing. Both are deduplicated across every target mapped to the key.
	TrackedFiles []FileDetail
	StaleFiles   []FileDetail

	// UntrackedSupported are taxonomy-recognized files no project declares.
	UntrackedSupported []sca.SupportedFile
	SupportedCount     int
}

// LeftOnly is a tracked repository the host no longer has (stale tracking).
type LeftOnly struct {
	Key     string
	Targets []catalog.ScanTarget
}

// RightOnly is a host repository nothing tracks.
type RightOnly struct {
	Key  string
	Host catalog.HostEntry
}

// Result is the full reconciliation outcome handed to the reporting layer.
type Result struct {
	Matched      []MatchedRepo
	LeftOnly     []LeftOnly
	RightOnly    []RightOnly
	Unresolvable []catalog.ScanTarget
	FailedOrgs   map[string]string
	Duplicates   []dupes.Group
}

// Engine performs the join. It accepts pre-built catalogs and a validator
// and does no catalog I/O of its own.
type Engine struct {
	Projects   ProjectSource
	Validator  FileValidator
	Host       *catalog.HostCatalog
	Targets    *catalog.TargetCatalog
	OrgIDs     []string
	DupePolicy dupes.Policy
}

func NewEngine(projects ProjectSource, validator FileValidator, host *catalog.HostCatalog, targets *catalog.TargetCatalog, orgIDs []string) *Engine {
	return &Engine{
		Projects:   projects,
		Validator:  validator,
		Host:       host,
		Targets:    targets,
		OrgIDs:     orgIDs,
		DupePolicy: dupes.DefaultPolicy(),
	}
}

// Evaluate classifies every canonical key from both catalogs into exactly one
// of matched, left-only, or right-only, then validates file coverage for the
// matched set and runs duplicate detection per organization. Failures local
// to one repository, target, or project are logged and never abort the run.
func (e *Engine) Evaluate() *Result {
	result := &Result{
		Unresolvable: e.Targets.Unresolvable(),
		FailedOrgs:   e.Targets.FailedOrgs(),
	}

	hostKeys := e.Host.Keys()
	targetKeys := e.Targets.Keys()

	inHost := make(map[string]bool, len(hostKeys))
	for _, k := range hostKeys {
		inHost[k] = true
	}
	inTargets := make(map[string]bool, len(targetKeys))
	for _, k := range targetKeys {
		inTargets[k] = true
	}

	for _, k := range targetKeys {
		if inHost[k] {
			result.Matched = append(result.Matched, e.evaluateMatch(k))
		} else {
			result.LeftOnly = append(result.LeftOnly, LeftOnly{Key: k, Targets: e.Targets.Targets(k)})
		}
	}
	for _, k := range hostKeys {
		if !inTargets[k] {
			entry, _ := e.Host.Get(k)
			result.RightOnly = append(result.RightOnly, RightOnly{Key: k, Host: entry})
		}
	}

	sort.Slice(result.Matched, func(i, j int) bool { return result.Matched[i].Key < result.Matched[j].Key })
	sort.Slice(result.LeftOnly, func(i, j int) bool { return result.LeftOnly[i].Key < result.LeftOnly[j].Key })
	sort.Slice(result.RightOnly, func(i, j int) bool { return result.RightOnly[i].Key < result.RightOnly[j].Key })

	result.Duplicates = e.detectDuplicates()
	return result
}

func (e *Engine) evaluateMatch(key string) MatchedRepo {
	entry, _ := e.Host.Get(key)
	branch := entry.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	repo := sca.RepoRef{PathWithNamespace: entry.FullPath, Branch: branch}

	matched := MatchedRepo{Key: key, Host: entry}

	// Declared file paths, deduplicated across every target and project
	// mapped to this key: the same repository may be tracked redundantly
	// from more than one integration.
	seen := map[string]bool{}

	for _, target := range e.Targets.Targets(key) {
		projects, err := e.Projects.ProjectsForTarget(target.OrgID, target.TargetID)
		if err != nil {
			utils.Log.Warn("Could not list projects for target ", target.TargetID, " (org ", target.OrgID, "): ", err)
			continue
		}

		for _, project := range projects {
			for _, declared := range project.FilePaths() {
				check, err := e.Validator.ValidateFile(repo, declared, project.Root)
				if err != nil {
					utils.Log.Warn("File check failed for ", declared, " in ", key, ": ", err)
					continue
				}
				if seen[check.Path] {
					continue
				}
				seen[check.Path] = true

				detail := FileDetail{
					Path:        check.Path,
					Exists:      check.Exists,
					Root:        project.Root,
					ProjectID:   project.ID,
					ProjectName: project.Name,
					OrgID:       target.OrgID,
				}
				if check.Exists {
					matched.TrackedFiles = append(matched.TrackedFiles, detail)
				} else {
					matched.StaleFiles = append(matched.StaleFiles, detail)
				}
			}
		}
	}

	supported, err := e.Validator.ScanRepository(repo)
	if err != nil {
		utils.Log.Warn("Could not scan ", key, " for supported files: ", err)
		supported = nil
	}
	matched.SupportedCount = len(supported)
	for _, sf := range supported {
		// untracked = supported − declared. Declared paths count whether or
		// not they still exist; stale and untracked stay distinct findings.
		if !seen[sf.Path] {
			matched.UntrackedSupported = append(matched.UntrackedSupported, sf)
		}
	}
	sort.Slice(matched.UntrackedSupported, func(i, j int) bool {
		return matched.UntrackedSupported[i].Path < matched.UntrackedSupported[j].Path
	})

	return matched
}

func (e *Engine) detectDuplicates() []dupes.Group {
	var groups []dupes.Group
	for _, orgID := range e.OrgIDs {
		projects, err := e.Projects.AllProjects(orgID)
		if err != nil {
			utils.Log.Warn("Could not list projects for org ", orgID, ": ", err)
			continue
		}
		groups = append(groups, dupes.Detect(projects, e.DupePolicy)...)
	}
	return groups
}
