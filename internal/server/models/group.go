package models

import "time"

// Group is a directory group entry. Membership is a many-to-many relation
// with no duplicate edges; a group may be empty.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Members   []string
}
