package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Service wraps a Store with the cart invariants: quantities never
// drop below 1, zero-quantity lines are removed, and at most one of
// the primary/temp slots holds the active cart.
type Service struct {
	store  Store
	logger zerolog.Logger
}

// NewService creates a cart service.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns the user's cart, empty rather than an error when none
// exists yet.
func (s *Service) Get(ctx context.Context, userID string) (Cart, error) {
	c, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Cart{UserID: userID}, nil
	}
	return c, err
}

// AddItem merges an item into the cart, summing quantities for an
// existing line.
func (s *Service) AddItem(ctx context.Context, userID string, item Item) (Cart, error) {
	if item.ID == "" || item.PrecioCents <= 0 {
		return Cart{}, fmt.Errorf("cart: item requires id and positive price")
	}
	if item.Cantidad < 1 {
		item.Cantidad = 1
	}

	c, err := s.Get(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	merged := false
	for i := range c.Items {
		if c.Items[i].ID == item.ID {
			c.Items[i].Cantidad += item.Cantidad
			merged = true
			break
		}
	}
	if !merged {
		c.Items = append(c.Items, item)
	}

	if err := s.store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// SetQuantity sets a line's quantity. Zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, cantidad int64) (Cart, error) {
	if cantidad < 0 {
		return Cart{}, fmt.Errorf("cart: negative quantity")
	}

	c, err := s.Get(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	found := false
	out := c.Items[:0]
	for _, it := range c.Items {
		if it.ID == itemID {
			found = true
			if cantidad == 0 {
				continue
			}
			it.Cantidad = cantidad
		}
		out = append(out, it)
	}
	if !found {
		return Cart{}, ErrNotFound
	}
	c.Items = out

	if err := s.store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// RemoveItem deletes a line entirely.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (Cart, error) {
	return s.SetQuantity(ctx, userID, itemID, 0)
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

// Replace overwrites the whole cart, dropping zero-quantity lines.
func (s *Service) Replace(ctx context.Context, userID string, items []Item) (Cart, error) {
	c := Cart{UserID: userID}
	for _, it := range items {
		if it.Cantidad < 1 {
			continue
		}
		c.Items = append(c.Items, it)
	}
	if err := s.store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Stash moves the primary cart into the temp slot. Called when an
// auth failure forces a logout mid-session so the cart survives it.
func (s *Service) Stash(ctx context.Context, userID string) error {
	c, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(c.Items) == 0 {
		return s.store.Delete(ctx, userID)
	}

	if err := s.store.SaveTemp(ctx, c); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("items", len(c.Items)).
		Msg("cart.stashed")
	return nil
}

// Restore moves the temp slot back to the primary cart and clears the
// temp slot. A no-op when no stash exists.
func (s *Service) Restore(ctx context.Context, userID string) (Cart, error) {
	c, err := s.store.GetTemp(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.Get(ctx, userID)
	}
	if err != nil {
		return Cart{}, err
	}

	if err := s.store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	if err := s.store.DeleteTemp(ctx, userID); err != nil {
		return Cart{}, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("items", len(c.Items)).
		Msg("cart.restored")
	return c, nil
}

// Backup snapshots the cart under a payment reference. Best effort on
// the checkout path.
func (s *Service) Backup(ctx context.Context, userID, reference string, delivery []byte) error {
	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if len(c.Items) == 0 {
		return ErrEmptyCart
	}
	return s.store.SaveBackup(ctx, Backup{
		Reference: reference,
		UserID:    userID,
		Items:     c.Items,
		Delivery:  delivery,
	})
}

// BackupByReference retrieves a checkout snapshot.
func (s *Service) BackupByReference(ctx context.Context, reference string) (Backup, error) {
	return s.store.GetBackup(ctx, reference)
}
