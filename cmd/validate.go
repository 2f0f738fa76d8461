package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/catalog"
	"github.com/sw33tLie/scadrift/pkg/dupes"
	"github.com/sw33tLie/scadrift/pkg/gitlab"
	"github.com/sw33tLie/scadrift/pkg/reconcile"
	"github.com/sw33tLie/scadrift/pkg/report"
	"github.com/sw33tLie/scadrift/pkg/sca"
	"github.com/sw33tLie/scadrift/pkg/snyk"
	"github.com/sw33tLie/scadrift/pkg/storage"
	"github.com/sw33tLie/scadrift/pkg/whttp"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Reconcile Snyk scan targets against GitLab repositories",
	Long:  "Builds both catalogs, joins them by canonical repository key, and reports stale tracking, untracked repos, file-level coverage drift, and duplicate projects.",
	Run: func(cmd *cobra.Command, args []string) {
		snykToken, _ := cmd.Flags().GetString("snyk-token")
		snykURL, _ := cmd.Flags().GetString("snyk-url")
		groupID, _ := cmd.Flags().GetString("group-id")
		orgID, _ := cmd.Flags().GetString("org-id")
		gitlabToken, _ := cmd.Flags().GetString("gitlab-token")
		gitlabURL, _ := cmd.Flags().GetString("gitlab-url")
		sourceTypesFlag, _ := cmd.Flags().GetString("source-types")
		outputReport, _ := cmd.Flags().GetString("output-report")
		dbPath, _ := cmd.Flags().GetString("dbpath")
		separator, _ := cmd.Flags().GetString("separator")

		proxy, _ := rootCmd.PersistentFlags().GetString("proxy")

		if snykToken == "" {
			snykToken = viper.GetString("snyk.token")
		}
		if snykURL == "" {
			snykURL = viper.GetString("snyk.url")
		}
		if gitlabToken == "" {
			gitlabToken = viper.GetString("gitlab.token")
		}
		if gitlabURL == "" {
			gitlabURL = viper.GetString("gitlab.url")
		}

		if snykToken == "" {
			log.Fatal("Please provide your Snyk API token (-t flag or snyk.token in the config file)")
		}
		if groupID != "" && orgID != "" {
			log.Fatal("Both --group-id and --org-id provided; pick one scope")
		}

		if proxy != "" {
			if err := whttp.SetupProxy(proxy); err != nil {
				log.Fatal("Invalid Proxy String")
			}
		}

		sn := snyk.NewClient(snykToken)
		if snykURL != "" {
			sn.BaseURL = snykURL
		}

		orgIDs := resolveOrgIDs(sn, groupID, orgID)
		if len(orgIDs) == 0 {
			log.Fatal("No accessible Snyk organizations found for the given scope")
		}
		utils.Log.Info("Reconciling ", len(orgIDs), " organization(s)")

		gl := gitlab.NewClient(gitlabToken, gitlabURL)

		host, err := catalog.BuildHostCatalog(gl)
		if err != nil {
			log.Fatal("Could not build the GitLab repository catalog: ", err)
		}
		utils.Log.Info("GitLab catalog: ", host.Len(), " repositories")

		sourceTypes := splitCSV(sourceTypesFlag)
		targets, err := catalog.BuildTargetCatalog(sn, orgIDs, sourceTypes)
		if err != nil {
			log.Fatal("Could not build the Snyk target catalog: ", err)
		}
		utils.Log.Info("Snyk catalog: ", targets.Len(), " repositories, ", len(targets.Unresolvable()), " unresolvable targets")

		engine := reconcile.NewEngine(sn, sca.NewValidator(gl), host, targets, orgIDs)
		if separator != "" {
			engine.DupePolicy = dupes.Policy{Separator: separator}
		}
		result := engine.Evaluate()

		text := report.Render(result)
		fmt.Print(text)

		if outputReport != "" {
			if err := os.WriteFile(outputReport, []byte(text), 0644); err != nil {
				utils.Log.Error("Could not write report to ", outputReport, ": ", err)
			} else {
				utils.Log.Info("Report written to ", outputReport)
			}
		}

		if dbPath != "" {
			persistRun(dbPath, result)
		}
	},
}

// resolveOrgIDs picks the organization scope: an explicit org, every org in a
// group, or every org the token can see.
func resolveOrgIDs(sn *snyk.Client, groupID, orgID string) []string {
	if orgID != "" {
		if err := sn.ValidateOrganizationAccess(orgID); err != nil {
			log.Fatal("Organization ", orgID, " is not accessible: ", err)
		}
		return []string{orgID}
	}

	var (
		orgs []snyk.Org
		err  error
	)
	if groupID != "" {
		orgs, err = sn.GroupOrganizations(groupID)
	} else {
		orgs, err = sn.Organizations()
	}
	if err != nil {
		log.Fatal("Could not list Snyk organizations: ", err)
	}

	ids := make([]string, 0, len(orgs))
	for _, o := range orgs {
		ids = append(ids, o.ID)
	}
	return ids
}

func persistRun(dbPath string, result *reconcile.Result) {
	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		utils.Log.Error("Could not prepare database lock: ", err)
		return
	}
	if err := lock.Lock(); err != nil {
		utils.Log.Error("Could not lock database: ", err)
		return
	}
	defer lock.Unlock()

	db, err := storage.Open(dbPath)
	if err != nil {
		utils.Log.Error("Could not open database ", dbPath, ": ", err)
		return
	}
	defer db.Close()

	changes, err := db.RecordRun(context.Background(), storage.FlattenResult(result))
	if err != nil {
		utils.Log.Error("Could not persist findings: ", err)
		return
	}
	var added, removed int
	for _, c := range changes {
		if c.ChangeType == "added" {
			added++
		} else {
			removed++
		}
	}
	utils.Log.Info("Findings persisted to ", dbPath, " (", added, " new, ", removed, " resolved)")
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("snyk-token", "t", "", "Snyk API token, get it here: https://app.snyk.io/account")
	validateCmd.Flags().StringP("snyk-url", "", "", "Snyk REST API base URL (default: https://api.snyk.io/rest)")
	validateCmd.Flags().StringP("group-id", "g", "", "Snyk group ID (reconcile every organization in the group)")
	validateCmd.Flags().StringP("org-id", "", "", "Snyk organization ID (reconcile one organization)")
	validateCmd.Flags().StringP("gitlab-token", "", "", "GitLab personal access token with read_api scope")
	validateCmd.Flags().StringP("gitlab-url", "", "", "GitLab base URL (default: https://gitlab.com)")
	validateCmd.Flags().StringP("source-types", "", "gitlab,cli", "Target source types to fetch, comma separated")
	validateCmd.Flags().StringP("output-report", "o", "", "Write the text report to a file as well as stdout")
	validateCmd.Flags().StringP("dbpath", "", "", "Persist findings to this SQLite DB and print drift deltas")
	validateCmd.Flags().StringP("separator", "", "", "Duplicate-detection name separator (default: \":\")")
}
