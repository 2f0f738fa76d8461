package catalog

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sw33tLie/scadrift/pkg/gitlab"
	"github.com/sw33tLie/scadrift/pkg/snyk"
)

func TestTargetCatalogBuilderAppends(t *testing.T) {
	b := NewTargetCatalogBuilder()
	b.Add("gitlab.com/g/repo", ScanTarget{TargetID: "t1"})
	b.Add("gitlab.com/g/repo", ScanTarget{TargetID: "t2"})
	c := b.Freeze()

	got := c.Targets("gitlab.com/g/repo")
	if len(got) != 2 {
		t.Fatalf("expected both targets kept under one key, got %d", len(got))
	}
	if got[0].TargetID != "t1" || got[1].TargetID != "t2" {
		t.Fatalf("expected discovery order preserved, got %+v", got)
	}
}

func TestTargetCatalogKeysSorted(t *testing.T) {
	b := NewTargetCatalogBuilder()
	b.Add("gitlab.com/z/repo", ScanTarget{TargetID: "t1"})
	b.Add("gitlab.com/a/repo", ScanTarget{TargetID: "t2"})
	keys := b.Freeze().Keys()
	if len(keys) != 2 || keys[0] != "gitlab.com/a/repo" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
}

func TestBuildHostCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/projects" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `[
			{"id":1,"path_with_namespace":"group/repo","default_branch":"main","web_url":"https://gitlab.example.com/group/repo"},
			{"id":2,"path_with_namespace":"group/sub/other","default_branch":"develop","web_url":"https://gitlab.example.com/group/sub/other"}
		]`)
	}))
	defer srv.Close()

	gl := gitlab.NewClient("", srv.URL)
	cat, err := BuildHostCatalog(gl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cat.Len())
	}

	key := strings.ToLower(gl.Host()) + "/group/sub/other"
	entry, ok := cat.Get(key)
	if !ok {
		t.Fatalf("expected key %s in the catalog", key)
	}
	if entry.DefaultBranch != "develop" || entry.ID != 2 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestBuildTargetCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/orgs/o-ok":
			fmt.Fprint(w, `{"data":{"id":"o-ok"}}`)
		case r.URL.Path == "/orgs/o-denied":
			w.WriteHeader(http.StatusForbidden)
		case r.URL.Path == "/orgs/o-ok/targets":
			fmt.Fprint(w, `{"data":[
				{"id":"t-gitlab","attributes":{"display_name":"group/repo","url":"https://gitlab.com/group/repo","type":"gitlab"}},
				{"id":"t-cli","attributes":{"display_name":"cli-project","url":"","type":"cli"}},
				{"id":"t-junk","attributes":{"display_name":"junk","url":"not a url","type":"gitlab"}},
				{"id":"t-github","attributes":{"display_name":"owner/repo","url":"https://github.com/owner/repo","type":"github"}}
			]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sn := snyk.NewClient("token")
	sn.BaseURL = srv.URL

	cat, err := BuildTargetCatalog(sn, []string{"o-ok", "o-denied"}, []string{"gitlab", "cli"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cat.Len() != 1 {
		t.Fatalf("expected 1 joinable key, got %d: %v", cat.Len(), cat.Keys())
	}
	targets := cat.Targets("gitlab.com/group/repo")
	if len(targets) != 1 || targets[0].TargetID != "t-gitlab" {
		t.Fatalf("unexpected targets for the gitlab key: %+v", targets)
	}
	if targets[0].Identity == nil {
		t.Fatal("joinable targets must carry a resolved identity")
	}

	// The CLI target (no URL) and the unparseable URL land in the
	// unresolvable bucket; the GitHub target is excluded entirely.
	unresolvable := cat.Unresolvable()
	if len(unresolvable) != 2 {
		t.Fatalf("expected 2 unresolvable targets, got %d: %+v", len(unresolvable), unresolvable)
	}
	if unresolvable[0].TargetID != "t-cli" || unresolvable[1].TargetID != "t-junk" {
		t.Fatalf("unexpected unresolvable order: %+v", unresolvable)
	}

	failed := cat.FailedOrgs()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed org, got %v", failed)
	}
	if _, ok := failed["o-denied"]; !ok {
		t.Fatalf("expected o-denied marked failed, got %v", failed)
	}
}
