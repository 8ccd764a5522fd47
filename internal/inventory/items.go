package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/store"
)

// CreateItem validates and stores a new catalog item, then triggers a
// background push.
//
// SKU uniqueness is case-insensitive and checked against every item the
// client knows about: the local cache plus, when the backend is
// reachable, the remote catalog. A non-empty description must be unique
// under the same rule. An unreachable backend narrows the check to the
// local cache rather than blocking the write.
func (s *Service) CreateItem(ctx context.Context, item *model.Item) error {
	item.SKU = strings.TrimSpace(item.SKU)
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.checkItemUnique(ctx, *item, ""); err != nil {
		return err
	}
	if err := s.st.Items().Add(ctx, item); err != nil {
		return err
	}
	s.notifyChanged(collectionItems, item.ID)
	return nil
}

// UpdateItem applies a patch to an existing item, re-running the
// uniqueness checks when the patch touches SKU or description.
func (s *Service) UpdateItem(ctx context.Context, id string, patch store.ItemPatch) (*model.Item, error) {
	existing, err := s.st.Items().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}

	if patch.SKU != nil || patch.Description != nil {
		candidate := *existing
		if patch.SKU != nil {
			candidate.SKU = strings.TrimSpace(*patch.SKU)
			patch.SKU = &candidate.SKU
		}
		if patch.Description != nil {
			candidate.Description = *patch.Description
		}
		if err := s.checkItemUnique(ctx, candidate, id); err != nil {
			return nil, err
		}
	}

	item, err := s.st.Items().Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	s.notifyChanged(collectionItems, item.ID)
	return item, nil
}

// DeleteItem removes an item locally and, best-effort, remotely. Count
// entries referencing the item are kept: history outlives the catalog.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	existing, err := s.st.Items().Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err := s.st.Items().Delete(ctx, id); err != nil {
		return err
	}
	s.removeRemote(ctx, collectionItems, id)
	return nil
}

// GetItem returns one item, or ErrNotFound.
func (s *Service) GetItem(ctx context.Context, id string) (*model.Item, error) {
	item, err := s.st.Items().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item, nil
}

// GetItems returns the full local catalog.
func (s *Service) GetItems(ctx context.Context) ([]model.Item, error) {
	return s.st.Items().GetAll(ctx)
}

// GetItemsByCategory returns the local catalog filtered by category.
func (s *Service) GetItemsByCategory(ctx context.Context, category model.ItemCategory) ([]model.Item, error) {
	return s.st.Items().GetByCategory(ctx, category)
}

// checkItemUnique verifies the candidate's SKU and description against
// every known item except excludeID.
func (s *Service) checkItemUnique(ctx context.Context, candidate model.Item, excludeID string) error {
	known, err := s.st.Items().GetAll(ctx)
	if err != nil {
		return err
	}

	// Best-effort remote extension. Offline means the local cache is the
	// best known set, which is exactly what an offline-first client can
	// promise.
	if s.catalog != nil {
		remoteItems, err := s.catalog.FetchAll(ctx)
		if err != nil {
			s.logger.Printf("uniqueness check limited to local cache: %v", err)
		} else {
			known = append(known, remoteItems...)
		}
	}

	sku := candidate.NormalizedSKU()
	desc := normalizeDescription(candidate.Description)

	for _, other := range known {
		if other.ID == excludeID || other.ID == candidate.ID {
			continue
		}
		if other.NormalizedSKU() == sku {
			return fmt.Errorf("sku %q: %w", candidate.SKU, ErrDuplicateSKU)
		}
		if desc != "" && normalizeDescription(other.Description) == desc {
			return fmt.Errorf("description %q: %w", candidate.Description, ErrDuplicateDescription)
		}
	}
	return nil
}

func normalizeDescription(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
