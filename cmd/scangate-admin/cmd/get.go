package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "List resources",
}

var getWhitelistsCmd = &cobra.Command{
	Use:     "whitelists",
	Aliases: []string{"whitelist", "wl"},
	Short:   "List whitelist rules",
	RunE:    runGetWhitelists,
}

func init() {
	getWhitelistsCmd.Flags().String("type", "", "Filter by type (secret, vulnerability)")
	getWhitelistsCmd.Flags().String("name", "", "Filter by exact name")
	getWhitelistsCmd.Flags().String("repository", "", "Filter by repository id")
	getWhitelistsCmd.Flags().String("vc", "", "Filter by VC id")
	getWhitelistsCmd.Flags().String("active", "", "Filter by active status (true/false)")
	getWhitelistsCmd.Flags().String("global", "", "Filter by global flag (true/false)")
	getWhitelistsCmd.Flags().Int("limit", 50, "Maximum number of rules")
	getWhitelistsCmd.Flags().Int("offset", 0, "Number of rules to skip")

	getCmd.AddCommand(getWhitelistsCmd)
}

func runGetWhitelists(cmd *cobra.Command, args []string) error {
	client := mustClient()

	params := url.Values{}
	for flag, param := range map[string]string{
		"type":       "type",
		"name":       "name",
		"repository": "repository_id",
		"vc":         "vc_id",
		"active":     "active",
		"global":     "global",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			params.Set(param, v)
		}
	}
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	data, err := client.Get("/api/v1/whitelists?" + params.Encode())
	if err != nil {
		return err
	}

	var resp ListResponse[WhitelistResponse]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}
	if render(resp) {
		return nil
	}

	if flagOutput == outputWide {
		t := newTable("ID", "TYPE", "NAME", "SCOPE", "REPOS", "VCS", "ACTIVE", "CREATED BY", "UPDATED")
		for _, r := range resp.Data {
			t.AddRow(r.ID, r.Type, truncate(ptrStr(r.Name), 40), scope(r),
				dash(strings.Join(r.Repos, ",")), dash(strings.Join(r.VCs, ",")),
				strconv.FormatBool(r.Active), dash(r.CreatedBy), shortTime(r.UpdatedAt))
		}
		t.Flush()
	} else {
		t := newTable("ID", "TYPE", "NAME", "SCOPE", "ACTIVE", "CREATED")
		for _, r := range resp.Data {
			t.AddRow(r.ID, r.Type, truncate(ptrStr(r.Name), 40), scope(r),
				strconv.FormatBool(r.Active), shortTime(r.CreatedAt))
		}
		t.Flush()
	}
	printPagination(resp.Total, resp.Limit, resp.Offset, len(resp.Data))
	return nil
}

func scope(r WhitelistResponse) string {
	if r.Global {
		return "global"
	}
	parts := make([]string, 0, 2)
	if n := len(r.Repos); n > 0 {
		parts = append(parts, fmt.Sprintf("%d repos", n))
	}
	if n := len(r.VCs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d vcs", n))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
