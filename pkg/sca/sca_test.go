package sca

import "testing"

func TestJoinRepoPath(t *testing.T) {
	cases := []struct {
		root     string
		filePath string
		want     string
	}{
		{"", "package.json", "package.json"},
		{".", "package.json", "package.json"},
		{"backend", "package.json", "backend/package.json"},
		{"backend/", "/package.json", "backend/package.json"},
		{"backend", "backend/package.json", "backend/package.json"},
		{"backend", "backend", "backend"},
		{"backend", "backend-v2/package.json", "backend/backend-v2/package.json"},
		{"a\\b", "c\\go.mod", "a/b/c/go.mod"},
	}
	for _, c := range cases {
		if got := JoinRepoPath(c.root, c.filePath); got != c.want {
			t.Fatalf("JoinRepoPath(%q, %q): expected %q, got %q", c.root, c.filePath, c.want, got)
		}
	}
}

func TestMatchSupportedExactNames(t *testing.T) {
	cases := []struct {
		path     string
		fileType string
	}{
		{"package.json", "npm"},
		{"services/api/package-lock.json", "npm"},
		{"requirements.txt", "python"},
		{"deep/nested/dir/Pipfile", "python"},
		{"pom.xml", "java"},
		{"go.mod", "golang"},
		{"Cargo.toml", "rust"},
		{"Gemfile.lock", "ruby"},
		{"composer.json", "php"},
		{"Dockerfile", "docker"},
	}
	for _, c := range cases {
		fileType, ok := MatchSupported(c.path)
		if !ok {
			t.Fatalf("expected %q to be supported", c.path)
		}
		if fileType != c.fileType {
			t.Fatalf("type for %q: expected %q, got %q", c.path, c.fileType, fileType)
		}
	}
}

func TestMatchSupportedSuffixes(t *testing.T) {
	fileType, ok := MatchSupported("infra/web.tf")
	if !ok || fileType != "terraform" {
		t.Fatalf("expected terraform for .tf suffix, got %q ok=%t", fileType, ok)
	}
	fileType, ok = MatchSupported("services/api.csproj")
	if !ok || fileType != "dotnet" {
		t.Fatalf("expected dotnet for .csproj suffix, got %q ok=%t", fileType, ok)
	}
}

func TestMatchSupportedIsCaseInsensitive(t *testing.T) {
	if _, ok := MatchSupported("PACKAGE.JSON"); !ok {
		t.Fatal("matching must ignore case")
	}
}

func TestMatchSupportedRejectsUnknown(t *testing.T) {
	for _, p := range []string{"README.md", "main.go", "src/index.js", ""} {
		if fileType, ok := MatchSupported(p); ok {
			t.Fatalf("expected %q to be unsupported, got type %q", p, fileType)
		}
	}
}
