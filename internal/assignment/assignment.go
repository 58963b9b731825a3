// Package assignment keeps each recipient sticky to one sending account.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/lock"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/store"
)

// ErrDuplicateActive means more than one active assignment was found for a
// recipient. The extras are deactivated before the error is returned.
var ErrDuplicateActive = errors.New("more than one active sender assignment")

// Store is the sender assignment store
type Store struct {
	store store.Store
	locks *lock.Keyed
	now   func() time.Time
}

// New creates an assignment store
func New(s store.Store) *Store {
	return &Store{store: s, locks: lock.NewKeyed(), now: time.Now}
}

// GetActive returns the recipient's active assignment, or nil
func (s *Store) GetActive(ctx context.Context, recipientID uint) (*model.Assignment, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()
	return s.active(ctx, recipientID)
}

// active must be called with the recipient lock held
func (s *Store) active(ctx context.Context, recipientID uint) (*model.Assignment, error) {
	rows, err := s.store.ActiveAssignments(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	}

	// rows are newest first; keep the newest
	for _, extra := range rows[1:] {
		if err := s.store.DeactivateAssignment(ctx, extra.ID); err != nil {
			return nil, fmt.Errorf("failed to deactivate duplicate assignment %d: %w", extra.ID, err)
		}
	}
	logrus.WithField("recipient_id", recipientID).Errorf("Found %d active sender assignments, kept %d", len(rows), rows[0].ID)
	return nil, fmt.Errorf("recipient %d: %w", recipientID, ErrDuplicateActive)
}

// CreateOrUpdate points the recipient at the given account. An existing
// active assignment is updated in place; otherwise a new one is inserted
// with total_sent=0.
func (s *Store) CreateOrUpdate(ctx context.Context, recipientID, accountID, providerID uint, campaignID *uint) (*model.Assignment, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()

	current, err := s.active(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.AccountID = accountID
		current.ProviderID = providerID
		if current.CampaignID == nil {
			current.CampaignID = campaignID
		}
		if err := s.store.UpdateAssignment(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to update assignment: %w", err)
		}
		return current, nil
	}

	a := &model.Assignment{
		RecipientID: recipientID,
		AccountID:   accountID,
		ProviderID:  providerID,
		CampaignID:  campaignID,
		AssignedAt:  s.now(),
		TotalSent:   0,
	}
	if err := s.store.InsertActiveAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"recipient_id": recipientID,
		"account_id":   accountID,
		"provider_id":  providerID,
	}).Debug("Created sender assignment")
	return a, nil
}

// RecordSentEmail bumps the sent counter of the recipient's active
// assignment. Recipients without an assignment are ignored.
func (s *Store) RecordSentEmail(ctx context.Context, recipientID uint, campaignID *uint) error {
	unlock := s.locks.Lock(recipientID)
	defer unlock()

	current, err := s.active(ctx, recipientID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	now := s.now()
	current.TotalSent++
	current.LastSentAt = &now
	if current.CampaignID == nil && campaignID != nil {
		current.CampaignID = campaignID
	}
	if err := s.store.UpdateAssignment(ctx, current); err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

// Deactivate retires an assignment whose account can no longer serve the recipient
func (s *Store) Deactivate(ctx context.Context, a *model.Assignment) error {
	unlock := s.locks.Lock(a.RecipientID)
	defer unlock()
	if err := s.store.DeactivateAssignment(ctx, a.ID); err != nil {
		return fmt.Errorf("failed to deactivate assignment %d: %w", a.ID, err)
	}
	a.IsActive = false
	return nil
}
