package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show details of a resource",
}

func init() {
	describeCmd.AddCommand(
		&cobra.Command{
			Use:     "whitelist ID",
			Aliases: []string{"wl"},
			Short:   "Show a whitelist rule with its comments",
			Args:    cobra.ExactArgs(1),
			RunE:    runDescribeWhitelist,
		},
		&cobra.Command{
			Use:   "incident ID",
			Short: "Show an incident with its activity and comments",
			Args:  cobra.ExactArgs(1),
			RunE:  runDescribeIncident,
		},
		&cobra.Command{
			Use:   "scan TARGET ID",
			Short: "Show a PR or live-commit scan (TARGET is pr or live_commit)",
			Args:  cobra.ExactArgs(2),
			RunE:  runDescribeScan,
		},
		&cobra.Command{
			Use:     "repository-scan ID",
			Aliases: []string{"repo-scan"},
			Short:   "Show a default-branch repository scan",
			Args:    cobra.ExactArgs(1),
			RunE:    runDescribeRepositoryScan,
		},
	)
}

func runDescribeWhitelist(cmd *cobra.Command, args []string) error {
	data, err := mustClient().Get("/api/v1/whitelists/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	var r WhitelistResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}
	if render(r) {
		return nil
	}
	printWhitelist(r)
	return nil
}

func printWhitelist(r WhitelistResponse) {
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Type:        %s\n", r.Type)
	fmt.Printf("Name:        %s\n", ptrStr(r.Name))
	fmt.Printf("Scope:       %s\n", scope(r))
	for _, id := range r.Repos {
		fmt.Printf("  repo:      %s\n", id)
	}
	for _, id := range r.VCs {
		fmt.Printf("  vc:        %s\n", id)
	}
	fmt.Printf("Active:      %s\n", strconv.FormatBool(r.Active))
	fmt.Printf("Created By:  %s\n", dash(r.CreatedBy))
	fmt.Printf("Updated By:  %s\n", dash(r.UpdatedBy))
	fmt.Printf("Created At:  %s\n", shortTime(r.CreatedAt))
	fmt.Printf("Updated At:  %s\n", shortTime(r.UpdatedAt))
	if len(r.Comments) > 0 {
		fmt.Println("\nComments:")
		for _, c := range r.Comments {
			fmt.Printf("  [%s] %s: %s\n", shortTime(c.CreatedAt), c.Author, c.Text)
		}
	}
}

func runDescribeIncident(cmd *cobra.Command, args []string) error {
	data, err := mustClient().Get("/api/v1/incidents/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	var r IncidentResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}
	if render(r) {
		return nil
	}
	printIncident(r)
	return nil
}

func printIncident(r IncidentResponse) {
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Name:        %s\n", r.Name)
	fmt.Printf("Type:        %s\n", r.Type)
	fmt.Printf("Status:      %s\n", r.Status)
	fmt.Printf("Closed By:   %s\n", dash(r.ClosedBy))
	fmt.Printf("Severity:    %s\n", dash(r.Severity))
	if r.SecretID != "" {
		fmt.Printf("Secret:      %s\n", r.SecretID)
	}
	if r.VulnerabilityID != "" {
		fmt.Printf("Vuln:        %s\n", r.VulnerabilityID)
	}
	fmt.Printf("Created At:  %s\n", shortTime(r.CreatedAt))
	fmt.Printf("Updated At:  %s\n", shortTime(r.UpdatedAt))

	if len(r.Activities) > 0 {
		fmt.Println("\nActivity:")
		t := newTable("  TIME", "ACTION", "ACTOR", "FROM", "TO")
		for _, a := range r.Activities {
			t.AddRow("  "+shortTime(a.CreatedAt), a.Action, dash(a.Actor), dash(a.OldValue), dash(a.NewValue))
		}
		t.Flush()
	}
	if len(r.Comments) > 0 {
		fmt.Println("\nComments:")
		for _, c := range r.Comments {
			fmt.Printf("  [%s] %s: %s\n", shortTime(c.CreatedAt), c.Author, c.Content)
		}
	}
}

func runDescribeScan(cmd *cobra.Command, args []string) error {
	data, err := mustClient().Get("/api/v1/scans/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1]))
	if err != nil {
		return err
	}
	var r ScanResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}
	if render(r) {
		return nil
	}

	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Target:      %s %s\n", r.Target, r.ParentID)
	fmt.Printf("Repository:  %s\n", r.RepositoryID)
	fmt.Printf("VC:          %s\n", r.VCID)
	fmt.Printf("Type:        %s\n", r.Type)
	fmt.Printf("Status:      %s\n", r.Status)
	fmt.Printf("Blocked:     %s\n", strconv.FormatBool(r.BlockStatus))
	fmt.Printf("Findings:    %d (%d new, %d blocking)\n", r.Findings, r.New, r.Blocking)
	if r.Error != "" {
		fmt.Printf("Error:       %s\n", r.Error)
	}
	fmt.Printf("Started:     %s\n", shortTimePtr(r.StartedAt))
	fmt.Printf("Completed:   %s\n", shortTimePtr(r.CompletedAt))
	return nil
}

func runDescribeRepositoryScan(cmd *cobra.Command, args []string) error {
	data, err := mustClient().Get("/api/v1/repository-scans/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	var r RepositoryScanResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}
	if render(r) {
		return nil
	}
	printRepositoryScans([]RepositoryScanResponse{r})
	return nil
}

func printRepositoryScans(scans []RepositoryScanResponse) {
	t := newTable("ID", "REPOSITORY", "STATUS", "ATTEMPTS", "CREATED", "COMPLETED", "ERROR")
	for _, s := range scans {
		t.AddRow(s.ID, s.RepositoryID, s.Status, strconv.Itoa(s.Attempts),
			shortTime(s.CreatedAt), shortTimePtr(s.CompletedAt), truncate(dash(s.Error), 60))
	}
	t.Flush()
}
