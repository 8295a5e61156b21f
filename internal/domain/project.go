package domain

import (
	"strings"
	"time"
)

// BuildType selects the build toolchain for a project.
type BuildType string

const (
	// BuildTypeContainerFile builds from a container file in the repository root.
	BuildTypeContainerFile BuildType = "CONTAINER_FILE"
	// BuildTypeBuildpack builds with the buildpack toolchain.
	BuildTypeBuildpack BuildType = "BUILDPACK"
)

// Project describes a deployable unit bound to a source-control repository.
type Project struct {
	ID             string
	OrganizationID string
	Name           string
	Repository     string // "owner/name"
	Type           BuildType
	Domain         string
	WebPort        int
	EnvVars        string // newline-delimited KEY=VALUE list
	SourceID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnvVarList splits the newline-delimited env var block into entries,
// dropping empty lines.
func (p Project) EnvVarList() []string {
	if strings.TrimSpace(p.EnvVars) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(p.EnvVars, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
