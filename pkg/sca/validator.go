package sca

import (
	"path"
	"strings"

	"github.com/sw33tLie/scadrift/pkg/gitlab"
)

// RepoRef locates a repository for coverage checks.
type RepoRef struct {
	PathWithNamespace string
	Branch            string
}

// FileCheck is the outcome of validating one tracked file.
type FileCheck struct {
	Path   string // resolved repository-relative path
	Exists bool
}

// SupportedFile is a repository file recognized by the taxonomy.
type SupportedFile struct {
	Path string
	Type string
}

// Validator checks tracked-file existence and scans repositories for
// supported files through the GitLab API.
type Validator struct {
	GitLab *gitlab.Client
}

func NewValidator(gl *gitlab.Client) *Validator {
	return &Validator{GitLab: gl}
}

// ValidateFile joins root and filePath into a repository-relative path and
// checks its existence on the repo's branch. A missing file is a normal
// result; any other API failure is surfaced to the caller.
func (v *Validator) ValidateFile(repo RepoRef, filePath, root string) (FileCheck, error) {
	resolved := JoinRepoPath(root, filePath)
	exists, err := v.GitLab.FileExists(repo.PathWithNamespace, resolved, repo.Branch)
	if err != nil {
		return FileCheck{Path: resolved}, err
	}
	return FileCheck{Path: resolved, Exists: exists}, nil
}

// ScanRepository retrieves the full recursive tree of the repository and
// returns every blob whose basename the taxonomy recognizes.
func (v *Validator) ScanRepository(repo RepoRef) ([]SupportedFile, error) {
	entries, err := v.GitLab.RepositoryTree(repo.PathWithNamespace, repo.Branch)
	if err != nil {
		return nil, err
	}

	var supported []SupportedFile
	for _, entry := range entries {
		if entry.Type != "blob" {
			continue
		}
		if fileType, ok := MatchSupported(entry.Path); ok {
			supported = append(supported, SupportedFile{Path: entry.Path, Type: fileType})
		}
	}
	return supported, nil
}

// JoinRepoPath joins a project root and a declared file path into one
// repository-relative path: separators normalized to forward slashes,
// leading and trailing slashes trimmed, and a no-op when filePath already
// starts with root.
func JoinRepoPath(root, filePath string) string {
	root = strings.Trim(strings.ReplaceAll(root, "\\", "/"), "/")
	filePath = strings.Trim(strings.ReplaceAll(filePath, "\\", "/"), "/")
	if root == "" || root == "." {
		return filePath
	}
	if filePath == root || strings.HasPrefix(filePath, root+"/") {
		return filePath
	}
	return path.Join(root, filePath)
}
