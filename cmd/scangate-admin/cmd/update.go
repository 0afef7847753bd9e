package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update a resource",
}

var updateWhitelistCmd = &cobra.Command{
	Use:     "whitelist ID",
	Aliases: []string{"wl"},
	Short:   "Update a whitelist rule",
	Long: `Update a whitelist rule. Only the flags given are changed.

Examples:
  scangate-admin update whitelist <id> --active=false
  scangate-admin update whitelist <id> --repo <repo-a> --repo <repo-b>
  scangate-admin update whitelist <id> --clear-name`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdateWhitelist,
}

var updateIncidentCmd = &cobra.Command{
	Use:   "incident ID",
	Short: "Change the status of an incident (open, closed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateIncident,
}

func init() {
	updateWhitelistCmd.Flags().String("name", "", "New name")
	updateWhitelistCmd.Flags().Bool("clear-name", false, "Remove the name so the rule matches any value")
	updateWhitelistCmd.Flags().StringSlice("repo", nil, "Replace the repository list (repeatable)")
	updateWhitelistCmd.Flags().StringSlice("vc", nil, "Replace the VC list (repeatable)")
	updateWhitelistCmd.Flags().Bool("global", false, "Set the global flag")
	updateWhitelistCmd.Flags().Bool("active", true, "Set the active flag")

	updateIncidentCmd.Flags().String("status", "", "New status: open or closed (required)")
	_ = updateIncidentCmd.MarkFlagRequired("status")

	updateCmd.AddCommand(updateWhitelistCmd, updateIncidentCmd)
}

func runUpdateWhitelist(cmd *cobra.Command, args []string) error {
	client := mustClient()

	body := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("name") {
		body["name"], _ = flags.GetString("name")
	}
	if v, _ := flags.GetBool("clear-name"); v {
		body["clear_name"] = true
	}
	if flags.Changed("repo") {
		body["repos"], _ = flags.GetStringSlice("repo")
	}
	if flags.Changed("vc") {
		body["vcs"], _ = flags.GetStringSlice("vc")
	}
	if flags.Changed("global") {
		body["global"], _ = flags.GetBool("global")
	}
	if flags.Changed("active") {
		body["active"], _ = flags.GetBool("active")
	}
	if len(body) == 0 {
		return fmt.Errorf("nothing to update: pass at least one flag")
	}

	data, err := client.Patch("/api/v1/whitelists/"+url.PathEscape(args[0]), body)
	if err != nil {
		return err
	}
	var resp WhitelistMutationResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}
	if render(resp) {
		return nil
	}

	fmt.Printf("Whitelist %s updated.\n", resp.Rule.ID)
	printReconcile(resp.Reconcile)
	return nil
}

func runUpdateIncident(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	data, err := mustClient().Patch("/api/v1/incidents/"+url.PathEscape(args[0])+"/status", map[string]string{"status": status})
	if err != nil {
		return err
	}
	var resp IncidentResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}
	if render(resp) {
		return nil
	}
	fmt.Printf("Incident %s is now %s.\n", resp.ID, resp.Status)
	return nil
}
