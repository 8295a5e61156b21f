package domain

import "time"

// Organization owns projects, sources, notification endpoints and service
// instances.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
