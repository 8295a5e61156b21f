package domain

import "time"

// InstanceStatus is the lifecycle state of a managed service instance.
type InstanceStatus string

const (
	InstancePending            InstanceStatus = "pending"
	InstanceRunning            InstanceStatus = "running"
	InstanceFailed             InstanceStatus = "failed"
	InstanceFailedCreateVolume InstanceStatus = "failed_create_volume"
)

// PostgresInstance is an organization-owned managed relational store.
type PostgresInstance struct {
	ID             string
	OrganizationID string
	Name           string
	Image          string
	Username       string
	Password       string
	Database       string
	Status         InstanceStatus
	DeployedAt     *time.Time
	CreatedAt      time.Time
}

// RedisInstance is an organization-owned managed cache store.
type RedisInstance struct {
	ID             string
	OrganizationID string
	Name           string
	Image          string
	Password       string
	Status         InstanceStatus
	DeployedAt     *time.Time
	CreatedAt      time.Time
}
