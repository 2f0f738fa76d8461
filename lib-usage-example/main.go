package main

import (
	"flag"
	"fmt"

	"github.com/sw33tLie/scadrift/pkg/catalog"
	"github.com/sw33tLie/scadrift/pkg/gitlab"
	"github.com/sw33tLie/scadrift/pkg/reconcile"
	"github.com/sw33tLie/scadrift/pkg/sca"
	"github.com/sw33tLie/scadrift/pkg/snyk"
)

func main() {
	// Usage: go run *.go -snyk-token "..." -org "org-id" -gitlab-token "..."

	snykTokenFlag := flag.String("snyk-token", "", "Snyk API token")
	orgFlag := flag.String("org", "", "Snyk organization ID")
	gitlabTokenFlag := flag.String("gitlab-token", "", "GitLab access token")

	flag.Parse()

	if *snykTokenFlag == "" || *orgFlag == "" {
		fmt.Println("Both -snyk-token and -org are required.")
		return
	}

	sn := snyk.NewClient(*snykTokenFlag)
	gl := gitlab.NewClient(*gitlabTokenFlag, "")

	host, err := catalog.BuildHostCatalog(gl)
	if err != nil {
		fmt.Println("gitlab catalog:", err)
		return
	}
	targets, err := catalog.BuildTargetCatalog(sn, []string{*orgFlag}, []string{"gitlab", "cli"})
	if err != nil {
		fmt.Println("snyk catalog:", err)
		return
	}

	result := reconcile.NewEngine(sn, sca.NewValidator(gl), host, targets, []string{*orgFlag}).Evaluate()

	for _, m := range result.Matched {
		fmt.Println("matched:", m.Key, "tracked:", len(m.TrackedFiles), "stale:", len(m.StaleFiles))
	}
	for _, l := range result.LeftOnly {
		fmt.Println("stale tracking:", l.Key)
	}
	for _, r := range result.RightOnly {
		fmt.Println("untracked repo:", r.Key)
	}
}
