package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/scadrift/internal/utils"
	"github.com/sw33tLie/scadrift/pkg/dupes"
	"github.com/sw33tLie/scadrift/pkg/snyk"
	"github.com/sw33tLie/scadrift/pkg/whttp"
)

// duplicatesCmd represents the duplicates command
var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find duplicate Snyk projects without touching GitLab",
	Long:  "Lists every project group where the same target tracks the same file identifier more than once, keeping the newest entry as canonical.",
	Run: func(cmd *cobra.Command, args []string) {
		snykToken, _ := cmd.Flags().GetString("snyk-token")
		snykURL, _ := cmd.Flags().GetString("snyk-url")
		groupID, _ := cmd.Flags().GetString("group-id")
		orgID, _ := cmd.Flags().GetString("org-id")
		separator, _ := cmd.Flags().GetString("separator")

		proxy, _ := rootCmd.PersistentFlags().GetString("proxy")

		if snykToken == "" {
			snykToken = viper.GetString("snyk.token")
		}
		if snykURL == "" {
			snykURL = viper.GetString("snyk.url")
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

		policy := dupes.DefaultPolicy()
		if separator != "" {
			policy = dupes.Policy{Separator: separator}
		}

		total := 0
		for _, id := range resolveOrgIDs(sn, groupID, orgID) {
			projects, err := sn.AllProjects(id)
			if err != nil {
				utils.Log.Warn("Could not list projects for org ", id, ": ", err)
				continue
			}
			groups := dupes.Detect(projects, policy)
			if len(groups) == 0 {
				continue
			}
			fmt.Printf("Organization %s (%s)\n", sn.OrganizationName(id), sn.OrganizationURL(id))
			for _, g := range groups {
				total += len(g.Stale)
				fmt.Printf("Target %s, identifier %q: keeping %s (created %s)\n", g.TargetID, g.UniqueIdentifier, g.CanonicalName, g.CanonicalCreated)
				for _, s := range g.Stale {
					fmt.Printf("  stale: %s (created %s)\n", s.ProjectName, s.Created)
					fmt.Printf("         %s\n", sn.ProjectURL(id, s.ProjectID))
				}
			}
		}
		fmt.Println("Total duplicate projects:", total)
	},
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().StringP("snyk-token", "t", "", "Snyk API token, get it here: https://app.snyk.io/account")
	duplicatesCmd.Flags().StringP("snyk-url", "", "", "Snyk REST API base URL (default: https://api.snyk.io/rest)")
	duplicatesCmd.Flags().StringP("group-id", "g", "", "Snyk group ID (check every organization in the group)")
	duplicatesCmd.Flags().StringP("org-id", "", "", "Snyk organization ID (check one organization)")
	duplicatesCmd.Flags().StringP("separator", "", "", "Duplicate-detection name separator (default: \":\")")
}
