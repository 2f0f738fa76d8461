package reconcile

import (
	"errors"
	"testing"

	"github.com/sw33tLie/scadrift/pkg/catalog"
	"github.com/sw33tLie/scadrift/pkg/repourl"
	"github.com/sw33tLie/scadrift/pkg/sca"
	"github.com/sw33tLie/scadrift/pkg/snyk"
)

// fakeProjects serves canned project listings keyed by target id and org id.
type fakeProjects struct {
	byTarget map[string][]snyk.Project
	byOrg    map[string][]snyk.Project
	failFor  string
}

func (f *fakeProjects) ProjectsForTarget(orgID, targetID string) ([]snyk.Project, error) {
	if targetID == f.failFor {
		return nil, errors.New("listing failed")
	}
	return f.byTarget[targetID], nil
}

func (f *fakeProjects) AllProjects(orgID string) ([]snyk.Project, error) {
	return f.byOrg[orgID], nil
}

// fakeValidator answers file checks from a set of existing paths.
type fakeValidator struct {
	existing   map[string]bool
	supported  []sca.SupportedFile
	seenBranch string
}

func (f *fakeValidator) ValidateFile(repo sca.RepoRef, filePath, root string) (sca.FileCheck, error) {
	f.seenBranch = repo.Branch
	resolved := sca.JoinRepoPath(root, filePath)
	return sca.FileCheck{Path: resolved, Exists: f.existing[resolved]}, nil
}

func (f *fakeValidator) ScanRepository(repo sca.RepoRef) ([]sca.SupportedFile, error) {
	return f.supported, nil
}

func buildHost(paths ...string) *catalog.HostCatalog {
	b := catalog.NewHostCatalogBuilder()
	for _, p := range paths {
		b.Add(repourl.CanonicalKey("gitlab.com", p), catalog.HostEntry{
			FullPath:      p,
			DefaultBranch: "develop",
			WebURL:        "https://gitlab.com/" + p,
		})
	}
	return b.Freeze()
}

func TestEvaluatePartition(t *testing.T) {
	host := buildHost("g/matched", "g/untracked")

	tb := catalog.NewTargetCatalogBuilder()
	tb.Add("gitlab.com/g/matched", catalog.ScanTarget{OrgID: "o1", TargetID: "t1", DisplayName: "g/matched"})
	tb.Add("gitlab.com/g/gone", catalog.ScanTarget{OrgID: "o1", TargetID: "t2", DisplayName: "g/gone"})
	tb.AddUnresolvable(catalog.ScanTarget{OrgID: "o1", TargetID: "t3", DisplayName: "cli-only"})
	targets := tb.Freeze()

	engine := NewEngine(&fakeProjects{}, &fakeValidator{}, host, targets, []string{"o1"})
	res := engine.Evaluate()

	if len(res.Matched) != 1 || res.Matched[0].Key != "gitlab.com/g/matched" {
		t.Fatalf("unexpected matched set: %+v", res.Matched)
	}
	if len(res.LeftOnly) != 1 || res.LeftOnly[0].Key != "gitlab.com/g/gone" {
		t.Fatalf("unexpected left-only set: %+v", res.LeftOnly)
	}
	if len(res.RightOnly) != 1 || res.RightOnly[0].Key != "gitlab.com/g/untracked" {
		t.Fatalf("unexpected right-only set: %+v", res.RightOnly)
	}
	if len(res.Unresolvable) != 1 || res.Unresolvable[0].TargetID != "t3" {
		t.Fatalf("unexpected unresolvable set: %+v", res.Unresolvable)
	}

	// Every key lands in exactly one bucket.
	buckets := map[string]int{}
	for _, m := range res.Matched {
		buckets[m.Key]++
	}
	for _, l := range res.LeftOnly {
		buckets[l.Key]++
	}
	for _, r := range res.RightOnly {
		buckets[r.Key]++
	}
	for k, n := range buckets {
		if n != 1 {
			t.Fatalf("key %s classified %d times", k, n)
		}
	}
}

func TestEvaluateEmptyCatalogs(t *testing.T) {
	hostOnly := buildHost("g/a")
	empty := catalog.NewTargetCatalogBuilder().Freeze()

	res := NewEngine(&fakeProjects{}, &fakeValidator{}, hostOnly, empty, nil).Evaluate()
	if len(res.Matched) != 0 || len(res.LeftOnly) != 0 {
		t.Fatalf("empty target catalog must yield only right-only entries: %+v", res)
	}
	if len(res.RightOnly) != 1 {
		t.Fatalf("expected 1 right-only entry, got %d", len(res.RightOnly))
	}

	tb := catalog.NewTargetCatalogBuilder()
	tb.Add("gitlab.com/g/a", catalog.ScanTarget{OrgID: "o1", TargetID: "t1"})
	res = NewEngine(&fakeProjects{}, &fakeValidator{}, catalog.NewHostCatalogBuilder().Freeze(), tb.Freeze(), nil).Evaluate()
	if len(res.LeftOnly) != 1 || len(res.Matched) != 0 || len(res.RightOnly) != 0 {
		t.Fatalf("empty host catalog must yield only left-only entries: %+v", res)
	}
}

func TestEvaluateFileCoverage(t *testing.T) {
	host := buildHost("g/repo")

	tb := catalog.NewTargetCatalogBuilder()
	tb.Add("gitlab.com/g/repo", catalog.ScanTarget{OrgID: "o1", TargetID: "t1"})
	targets := tb.Freeze()

	projects := &fakeProjects{
		byTarget: map[string][]snyk.Project{
			"t1": {
				{ID: "p1", Name: "g/repo:package.json", TargetID: "t1", TargetFile: "package.json"},
				{ID: "p2", Name: "g/repo:missing/go.mod", TargetID: "t1", TargetFile: "missing/go.mod"},
				// Redundant declaration of an already-seen path.
				{ID: "p3", Name: "g/repo:package.json", TargetID: "t1", TargetFile: "package.json"},
			},
		},
	}
	validator := &fakeValidator{
		existing: map[string]bool{"package.json": true},
		supported: []sca.SupportedFile{
			{Path: "package.json", Type: "npm"},
			{Path: "services/requirements.txt", Type: "python"},
		},
	}

	res := NewEngine(projects, validator, host, targets, []string{"o1"}).Evaluate()
	if len(res.Matched) != 1 {
		t.Fatalf("expected 1 matched repo, got %d", len(res.Matched))
	}
	m := res.Matched[0]

	if len(m.TrackedFiles) != 1 || m.TrackedFiles[0].Path != "package.json" {
		t.Fatalf("unexpected tracked files: %+v", m.TrackedFiles)
	}
	if len(m.StaleFiles) != 1 || m.StaleFiles[0].Path != "missing/go.mod" {
		t.Fatalf("unexpected stale files: %+v", m.StaleFiles)
	}
	if len(m.UntrackedSupported) != 1 || m.UntrackedSupported[0].Path != "services/requirements.txt" {
		t.Fatalf("unexpected untracked files: %+v", m.UntrackedSupported)
	}
	if m.SupportedCount != 2 {
		t.Fatalf("expected supported count 2, got %d", m.SupportedCount)
	}
	if validator.seenBranch != "develop" {
		t.Fatalf("file checks must run on the host default branch, got %q", validator.seenBranch)
	}
}

func TestEvaluateSurvivesProjectListingFailure(t *testing.T) {
	host := buildHost("g/a", "g/b")

	tb := catalog.NewTargetCatalogBuilder()
	tb.Add("gitlab.com/g/a", catalog.ScanTarget{OrgID: "o1", TargetID: "bad"})
	tb.Add("gitlab.com/g/b", catalog.ScanTarget{OrgID: "o1", TargetID: "t2"})
	targets := tb.Freeze()

	projects := &fakeProjects{
		failFor: "bad",
		byTarget: map[string][]snyk.Project{
			"t2": {{ID: "p1", TargetID: "t2", TargetFile: "go.mod"}},
		},
	}
	validator := &fakeValidator{existing: map[string]bool{"go.mod": true}}

	res := NewEngine(projects, validator, host, targets, []string{"o1"}).Evaluate()
	if len(res.Matched) != 2 {
		t.Fatalf("a failing target must not abort the run, got %d matched", len(res.Matched))
	}
	// The failing repo has no file detail but stays matched.
	for _, m := range res.Matched {
		if m.Key == "gitlab.com/g/b" && len(m.TrackedFiles) != 1 {
			t.Fatalf("healthy repo lost its coverage: %+v", m)
		}
	}
}

func TestEvaluateDuplicates(t *testing.T) {
	host := buildHost()
	targets := catalog.NewTargetCatalogBuilder().Freeze()

	projects := &fakeProjects{
		byOrg: map[string][]snyk.Project{
			"o1": {
				{ID: "p1", Name: "repo:a", TargetID: "t1", OrgID: "o1", Created: "2024-01-01T00:00:00Z"},
				{ID: "p2", Name: "repo:./a", TargetID: "t1", OrgID: "o1", Created: "2024-02-01T00:00:00Z"},
			},
		},
	}

	res := NewEngine(projects, &fakeValidator{}, host, targets, []string{"o1"}).Evaluate()
	if len(res.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(res.Duplicates))
	}
	if res.Duplicates[0].CanonicalID != "p2" {
		t.Fatalf("expected the newest project canonical, got %s", res.Duplicates[0].CanonicalID)
	}
}
