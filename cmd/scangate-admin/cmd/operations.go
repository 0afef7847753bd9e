package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Queue default-branch repository scans",
}

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Comment on a whitelist rule or an incident",
}

func init() {
	scanCmd.AddCommand(
		&cobra.Command{
			Use:   "vc ID",
			Short: "Queue a scan of every repository of a VC",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := mustClient().Post("/api/v1/vcs/"+url.PathEscape(args[0])+"/scans", nil)
				if err != nil {
					return err
				}
				var resp ListResponse[RepositoryScanResponse]
				if err := unmarshal(data, &resp); err != nil {
					return err
				}
				if render(resp) {
					return nil
				}
				fmt.Printf("%d repository scans queued.\n\n", len(resp.Data))
				printRepositoryScans(resp.Data)
				return nil
			},
		},
		&cobra.Command{
			Use:     "repository ID",
			Aliases: []string{"repo"},
			Short:   "Queue a scan of one repository",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := mustClient().Post("/api/v1/repositories/"+url.PathEscape(args[0])+"/scans", nil)
				if err != nil {
					return err
				}
				var resp RepositoryScanResponse
				if err := unmarshal(data, &resp); err != nil {
					return err
				}
				if render(resp) {
					return nil
				}
				fmt.Printf("Repository scan %s queued.\n", resp.ID)
				return nil
			},
		},
	)

	commentCmd.AddCommand(
		&cobra.Command{
			Use:     "whitelist ID TEXT...",
			Aliases: []string{"wl"},
			Short:   "Add a comment to a whitelist rule",
			Args:    cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.Join(args[1:], " ")
				if _, err := mustClient().Post("/api/v1/whitelists/"+url.PathEscape(args[0])+"/comments",
					map[string]string{"text": text}); err != nil {
					return err
				}
				fmt.Println("Comment added.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "incident ID TEXT...",
			Short: "Add a comment to an incident",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.Join(args[1:], " ")
				if _, err := mustClient().Post("/api/v1/incidents/"+url.PathEscape(args[0])+"/comments",
					map[string]string{"content": text}); err != nil {
					return err
				}
				fmt.Println("Comment added.")
				return nil
			},
		},
	)
}
