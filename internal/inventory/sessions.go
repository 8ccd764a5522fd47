package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/store"
)

// CreateSession opens a new counting session dated at the given time (or
// now when zero) with status in_progress.
func (s *Service) CreateSession(ctx context.Context, date time.Time) (*model.Session, error) {
	if date.IsZero() {
		date = time.Now().UTC()
	}
	sess := &model.Session{
		Date:   date,
		Status: model.SessionInProgress,
	}
	if err := s.st.Sessions().Add(ctx, sess); err != nil {
		return nil, err
	}
	s.notifyChanged(collectionSessions, sess.ID)
	return sess, nil
}

// GetAllSessions returns every local session.
func (s *Service) GetAllSessions(ctx context.Context) ([]model.Session, error) {
	return s.st.Sessions().GetAll(ctx)
}

// GetSessionByID returns one session, or ErrNotFound.
func (s *Service) GetSessionByID(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.st.Sessions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, nil
}

// CompleteSession marks a session completed and freezes its entry count.
// Completing an already-completed session is a no-op.
func (s *Service) CompleteSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionCompleted {
		return sess, nil
	}

	count, err := s.st.Entries().CountBySession(ctx, id)
	if err != nil {
		return nil, err
	}

	status := model.SessionCompleted
	sess, err = s.st.Sessions().Update(ctx, id, store.SessionPatch{
		Status:     &status,
		ItemsCount: &count,
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.notifyChanged(collectionSessions, sess.ID)
	return sess, nil
}

// DeleteSession removes a session and its entries locally, then
// best-effort remotely so the next pull does not resurrect them.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.st.Sessions().Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	entries, err := s.st.Entries().GetBySession(ctx, id)
	if err != nil {
		return err
	}

	if err := s.st.Sessions().Delete(ctx, id); err != nil {
		return err
	}

	for _, e := range entries {
		s.removeRemote(ctx, collectionEntries, e.ID)
	}
	s.removeRemote(ctx, collectionSessions, id)
	return nil
}

// AddOrUpdateCountEntry records one (session, item) count observation.
// A second call for the same pair updates the existing entry in place.
// Counting into a completed session is rejected.
func (s *Service) AddOrUpdateCountEntry(ctx context.Context, sessionID, itemID string, quantity int, previousQuantity *int, comment string) (*model.CountEntry, error) {
	sess, err := s.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionCompleted {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionCompleted)
	}

	item, err := s.st.Items().Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}

	existing, err := s.st.Entries().GetBySessionAndItem(ctx, sessionID, itemID)
	if err != nil {
		return nil, err
	}

	entry := model.CountEntry{
		SessionID:        sessionID,
		ItemID:           itemID,
		Quantity:         quantity,
		PreviousQuantity: previousQuantity,
		Comment:          comment,
	}
	entry.ComputeDifference()

	if existing == nil {
		if err := s.st.Entries().Add(ctx, &entry); err != nil {
			return nil, err
		}
		s.notifyChanged(collectionEntries, entry.ID)
		return &entry, nil
	}

	updated, err := s.st.Entries().Update(ctx, existing.ID, store.EntryPatch{
		Quantity:            &entry.Quantity,
		PreviousQuantity:    entry.PreviousQuantity,
		SetPreviousQuantity: true,
		Difference:          entry.Difference,
		SetDifference:       true,
		Comment:             &entry.Comment,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("entry %s: %w", existing.ID, ErrNotFound)
	}
	s.notifyChanged(collectionEntries, updated.ID)
	return updated, nil
}

// GetSessionEntries returns the entries recorded in one session.
func (s *Service) GetSessionEntries(ctx context.Context, sessionID string) ([]model.CountEntry, error) {
	return s.st.Entries().GetBySession(ctx, sessionID)
}

// Comparison is the baseline a counting session is measured against: the
// prior completed session and its per-item quantities.
type Comparison struct {
	Session    model.Session
	Quantities map[string]int
}

// QuantityFor returns the baseline quantity for an item. Items absent
// from the baseline count as zero, and a nil comparison (no prior
// session) answers zero for everything.
func (c *Comparison) QuantityFor(itemID string) int {
	if c == nil {
		return 0
	}
	return c.Quantities[itemID]
}

// PreviousSessionComparison finds the baseline for a session: the most
// recent completed session, other than the target, that recorded at
// least one entry. Sessions are ordered by date, with UpdatedAt breaking
// ties. Returns (nil, nil) when no prior session qualifies.
//
// The baseline is computed once when counting starts; a sync pass landing
// mid-session does not move it.
func (s *Service) PreviousSessionComparison(ctx context.Context, sessionID string) (*Comparison, error) {
	completed, err := s.st.Sessions().GetByStatus(ctx, model.SessionCompleted)
	if err != nil {
		return nil, err
	}

	var best *model.Session
	for i := range completed {
		cand := &completed[i]
		if cand.ID == sessionID {
			continue
		}
		n, err := s.st.Entries().CountBySession(ctx, cand.ID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if best == nil || laterSession(*cand, *best) {
			best = cand
		}
	}
	if best == nil {
		return nil, nil
	}

	entries, err := s.st.Entries().GetBySession(ctx, best.ID)
	if err != nil {
		return nil, err
	}
	quantities := make(map[string]int, len(entries))
	for _, e := range entries {
		quantities[e.ItemID] = e.Quantity
	}
	return &Comparison{Session: *best, Quantities: quantities}, nil
}

// laterSession reports whether a should be preferred over b as the more
// recent baseline.
func laterSession(a, b model.Session) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
