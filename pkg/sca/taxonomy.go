// Package sca knows which files the scanner can track (the supported-file
// taxonomy) and validates tracked-file coverage against a live repository.
package sca

import (
	"path"
	"strings"
)

// taxonomyMap is the source of truth for supported files. It groups file
// patterns under a type tag: dependency manifests by ecosystem, container
// files, and infrastructure-as-code by tool. A pattern is either an exact
// filename or a trailing-wildcard glob matched by suffix.
var taxonomyMap = map[string][]string{
	"npm":            {"package.json", "package-lock.json", "yarn.lock", ".nvmrc", ".node-version"},
	"python":         {"requirements.txt", "Pipfile", "Pipfile.lock", "poetry.lock", "pyproject.toml", ".python-version"},
	"java":           {"pom.xml", "build.gradle", "build.gradle.kts", ".java-version"},
	"scala":          {"build.sbt", "*.sbt", "build.properties"},
	"php":            {"composer.json", "composer.lock"},
	"ruby":           {"Gemfile", "Gemfile.lock", ".ruby-version"},
	"golang":         {"go.mod", "go.sum"},
	"rust":           {"Cargo.toml", "Cargo.lock"},
	"dotnet":         {"nuget.config", "packages.config", "*.csproj", "*.vbproj", "*.fsproj"},
	"docker":         {"Dockerfile", ".dockerignore", "docker-compose.yml", "docker-compose.yaml"},
	"terraform":      {"*.tf", "*.tfvars"},
	"cloudformation": {"template.yaml", "template.yml"},
}

type pattern struct {
	fileType string
	exact    string // lowercased exact basename, empty for wildcards
	suffix   string // lowercased suffix for trailing-wildcard globs
}

// patterns is the flattened lookup table generated from taxonomyMap.
var patterns []pattern

func init() {
	for fileType, raws := range taxonomyMap {
		for _, raw := range raws {
			p := pattern{fileType: fileType}
			if strings.HasPrefix(raw, "*") {
				p.suffix = strings.ToLower(strings.TrimPrefix(raw, "*"))
			} else {
				p.exact = strings.ToLower(raw)
			}
			patterns = append(patterns, p)
		}
	}
}

// MatchSupported tests a file path's basename against the taxonomy and
// returns the matching type tag. Matching is case-insensitive.
func MatchSupported(filePath string) (string, bool) {
	base := strings.ToLower(path.Base(filePath))
	for _, p := range patterns {
		if p.exact != "" && base == p.exact {
			return p.fileType, true
		}
		if p.suffix != "" && strings.HasSuffix(base, p.suffix) {
			return p.fileType, true
		}
	}
	return "", false
}
