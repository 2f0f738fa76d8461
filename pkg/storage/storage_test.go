package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sw33tLie/scadrift/pkg/catalog"
	"github.com/sw33tLie/scadrift/pkg/dupes"
	"github.com/sw33tLie/scadrift/pkg/reconcile"
	"github.com/sw33tLie/scadrift/pkg/sca"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("could not open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordRunAddAndSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := []Finding{
		{RepoKey: "gitlab.com/g/a", Type: "stale_target", Detail: "t1", OrgID: "o1"},
		{RepoKey: "gitlab.com/g/b", Type: "untracked_repo"},
	}
	changes, err := db.RecordRun(ctx, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 added changes on the first run, got %d", len(changes))
	}
	for _, c := range changes {
		if c.ChangeType != "added" {
			t.Fatalf("expected only added changes, got %+v", c)
		}
	}

	// Second run: the first finding persists, the second is resolved, and a
	// new one appears.
	second := []Finding{
		{RepoKey: "gitlab.com/g/a", Type: "stale_target", Detail: "t1", OrgID: "o1"},
		{RepoKey: "gitlab.com/g/c", Type: "stale_file", Detail: "go.mod", OrgID: "o1"},
	}
	changes, err = db.RecordRun(ctx, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var added, removed int
	for _, c := range changes {
		switch c.ChangeType {
		case "added":
			added++
			if c.RepoKey != "gitlab.com/g/c" {
				t.Fatalf("unexpected added change: %+v", c)
			}
		case "removed":
			removed++
			if c.RepoKey != "gitlab.com/g/b" {
				t.Fatalf("unexpected removed change: %+v", c)
			}
		}
	}
	if added != 1 || removed != 1 {
		t.Fatalf("expected 1 added and 1 removed, got %d/%d", added, removed)
	}

	findings, err := db.ListFindings(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 current findings after the sweep, got %d", len(findings))
	}
}

func TestRecordRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	findings := []Finding{{RepoKey: "gitlab.com/g/a", Type: "untracked_repo"}}
	if _, err := db.RecordRun(ctx, findings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changes, err := db.RecordRun(ctx, findings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("an identical run must produce no changes, got %+v", changes)
	}
}

func TestListFindingsFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.RecordRun(ctx, []Finding{
		{RepoKey: "gitlab.com/g/a", Type: "stale_file", Detail: "go.mod"},
		{RepoKey: "gitlab.com/g/a", Type: "untracked_file", Detail: "package.json"},
		{RepoKey: "gitlab.com/other/b", Type: "stale_file", Detail: "pom.xml"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byType, err := db.ListFindings(ctx, ListOptions{Type: "stale_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 stale_file findings, got %d", len(byType))
	}

	byKey, err := db.ListFindings(ctx, ListOptions{KeyFilter: "g/a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byKey) != 2 {
		t.Fatalf("expected 2 findings for g/a, got %d", len(byKey))
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 finding types in stats, got %+v", stats)
	}
}

func TestListRecentChanges(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.RecordRun(ctx, []Finding{{RepoKey: "gitlab.com/g/a", Type: "untracked_repo"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := db.RecordRun(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changes, err := db.ListRecentChanges(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 change rows, got %d", len(changes))
	}
	for _, c := range changes {
		if c.OccurredAt.IsZero() {
			t.Fatalf("expected a parsed timestamp, got %+v", c)
		}
	}
}

func TestFlattenResult(t *testing.T) {
	res := &reconcile.Result{
		Matched: []reconcile.MatchedRepo{{
			Key:                "gitlab.com/g/a",
			StaleFiles:         []reconcile.FileDetail{{Path: "old/go.mod", OrgID: "o1"}},
			UntrackedSupported: []sca.SupportedFile{{Path: "new/package.json", Type: "npm"}},
		}},
		LeftOnly: []reconcile.LeftOnly{{
			Key:     "gitlab.com/g/gone",
			Targets: []catalog.ScanTarget{{OrgID: "o1", TargetID: "t1"}},
		}},
		RightOnly:    []reconcile.RightOnly{{Key: "gitlab.com/g/untracked"}},
		Unresolvable: []catalog.ScanTarget{{OrgID: "o1", TargetID: "t-cli"}},
		Duplicates: []dupes.Group{{
			TargetID: "t1",
			Stale:    []dupes.StaleProject{{ProjectName: "repo:a", OrgID: "o1"}},
		}},
	}

	findings := FlattenResult(res)
	if len(findings) != 6 {
		t.Fatalf("expected 6 findings, got %d: %+v", len(findings), findings)
	}

	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Type]++
	}
	want := map[string]int{
		"stale_target":        1,
		"untracked_repo":      1,
		"stale_file":          1,
		"untracked_file":      1,
		"duplicate_project":   1,
		"unresolvable_target": 1,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Fatalf("expected %d %s findings, got %d", n, typ, counts[typ])
		}
	}
}
