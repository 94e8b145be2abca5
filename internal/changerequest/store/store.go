// Package store persists change requests and their satellite collections.
package store

import (
	"changeflow/internal/changerequest/models"
)

// QueueQuery selects the active change requests awaiting one role.
// Zero ids mean "any".
type QueueQuery struct {
	Stages              []models.Stage
	LineManagerID       int64
	AssignedITOfficerID int64
	RequestedBy         int64
}

// Page is one window of a filtered listing.
type Page struct {
	Items []*models.ChangeRequest
	Total int
}
