package domain

import "time"

// NotificationEndpointType selects the transport for an endpoint.
type NotificationEndpointType string

const (
	EndpointDiscord NotificationEndpointType = "DISCORD"
	EndpointSlack   NotificationEndpointType = "SLACK"
	EndpointWebhook NotificationEndpointType = "WEBHOOK"
)

// NotificationType identifies a pipeline outcome worth notifying about.
type NotificationType string

const (
	NotifySuccessfulDeploy NotificationType = "successful_deploy"
	NotifyFailedDeploy     NotificationType = "failed_deploy"
	NotifyFailedBuild      NotificationType = "failed_build"
)

// NotificationEndpoint is an organization-scoped delivery target, attached to
// projects through a join table.
type NotificationEndpoint struct {
	ID             string
	OrganizationID string
	Name           string
	Type           NotificationEndpointType
	Endpoint       string
	CreatedAt      time.Time
}
