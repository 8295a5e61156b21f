package domain

import "time"

// GithubSource is a per-organization GitHub App registration. A project
// cannot build or deploy until the app has been installed, i.e. the
// installation id is non-nil.
type GithubSource struct {
	ID             string
	OrganizationID string
	AppID          string
	ClientID       string
	ClientSecret   []byte // encrypted at rest
	WebhookSecret  []byte // encrypted at rest
	PEM            []byte // encrypted at rest
	InstallationID *int64
	CreatedAt      time.Time
}

// Installed reports whether the app registration is complete enough to
// authenticate as an installation.
func (s *GithubSource) Installed() bool {
	return s != nil && s.AppID != "" && len(s.PEM) > 0 && s.InstallationID != nil
}
