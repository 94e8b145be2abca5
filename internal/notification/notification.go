// Package notification carries stage-transition notices from the workflow engine to the
// delivery transport. Delivery is best effort: the engine never waits on it and never
// fails a committed transition because of it.
package notification

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"changeflow/internal/changerequest/models"
)

// Kind names a notification template.
type Kind string

const (
	KindCreated            Kind = "CR_CREATED"
	KindLMApproved         Kind = "CR_LM_APPROVED"
	KindAssigned           Kind = "CR_ASSIGNED"
	KindReadyForTesting    Kind = "CR_READY_FOR_TESTING"
	KindTestConfirmed      Kind = "CR_TEST_CONFIRMED"
	KindQAValidated        Kind = "CR_QA_VALIDATED"
	KindProductionApproved Kind = "CR_PRODUCTION_APPROVED"
	KindFinalApproved      Kind = "CR_FINAL_APPROVED"
	KindDeployed           Kind = "CR_DEPLOYED"
	KindRejected           Kind = "CR_REJECTED"
	KindClosed             Kind = "CR_CLOSED"
)

// Recipients is either an explicit id set or a role to be resolved by the transport.
type Recipients interface {
	isRecipients()
}

// Explicit addresses concrete users.
type Explicit struct {
	IDs []int64 `json:"ids"`
}

// ByRole addresses whoever holds Role.
type ByRole struct {
	Role models.Role `json:"role"`
}

func (Explicit) isRecipients() {}
func (ByRole) isRecipients() {}

// To builds an Explicit set, dropping zero ids and duplicates while keeping order.
func To(ids ...int64) Explicit {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return Explicit{IDs: out}
}

// Notification is a snapshot of a change request plus who should hear about it.
type Notification struct {
	ID            uuid.UUID            `json:"id"`
	Kind          Kind                 `json:"kind"`
	ChangeRequest models.ChangeRequest `json:"change_request"`
	Recipients    Recipients           `json:"-"`
	RequestID     string               `json:"request_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// New stamps a notification with a fresh id.
func New(kind Kind, cr *models.ChangeRequest, to Recipients, now time.Time) Notification {
	return Notification{
		ID:            uuid.New(),
		Kind:          kind,
		ChangeRequest: *cr.Clone(),
		Recipients:    to,
		CreatedAt:     now,
	}
}

// Dispatcher delivers one notification. Implementations own retry and transport concerns.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}
