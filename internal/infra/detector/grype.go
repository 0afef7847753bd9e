package detector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openctemio/scangate/pkg/domain/finding"
)

const grypeName = "grype"

type grypeOutput struct {
	Matches []grypeMatch `json:"matches"`
}

type grypeMatch struct {
	Vulnerability struct {
		ID          string `json:"id"`
		DataSource  string `json:"dataSource"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
		Fix         struct {
			Versions []string `json:"versions"`
			State    string   `json:"state"`
		} `json:"fix"`
	} `json:"vulnerability"`
	RelatedVulnerabilities []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"relatedVulnerabilities"`
	Artifact struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Type    string `json:"type"`
	} `json:"artifact"`
}

func grypeArgs(dir string) []string {
	return []string{"dir:" + dir, "-o", "json", "--quiet"}
}

// parseGrype decodes grype JSON. The CVE alias comes from the vulnerability id
// itself or the first related CVE.
func parseGrype(out []byte) ([]*finding.Vulnerability, error) {
	var g grypeOutput
	if err := json.Unmarshal(out, &g); err != nil {
		return nil, fmt.Errorf("failed to parse grype output: %w", err)
	}

	vulns := make([]*finding.Vulnerability, 0, len(g.Matches))
	for _, m := range g.Matches {
		v := &finding.Vulnerability{
			VulnerabilityID: m.Vulnerability.ID,
			PackageName:     m.Artifact.Name,
			PackageVersion:  m.Artifact.Version,
			PackageType:     m.Artifact.Type,
			FixVersions:     m.Vulnerability.Fix.Versions,
			FixState:        m.Vulnerability.Fix.State,
			Description:     m.Vulnerability.Description,
			DataSource:      m.Vulnerability.DataSource,
			Severity:        finding.ParseSeverity(m.Vulnerability.Severity),
		}
		if isCVE(v.VulnerabilityID) {
			v.CVEID = v.VulnerabilityID
		}
		for _, rv := range m.RelatedVulnerabilities {
			if v.CVEID == "" && isCVE(rv.ID) {
				v.CVEID = rv.ID
			}
			if v.Description == "" {
				v.Description = rv.Description
			}
		}
		vulns = append(vulns, v)
	}
	return vulns, nil
}

func isCVE(id string) bool {
	return strings.HasPrefix(strings.ToUpper(id), "CVE-")
}
