// ABOUTME: Persisted client state keyed by name, such as the most recent theme
// ABOUTME: Defines the Store interface plus theme helpers shared by implementations

package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/cardea-console/internal/model"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// KeyRecentTheme holds the theme last received from the controller.
const KeyRecentTheme = "recentTheme"

// Store persists small values across console runs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// LoadTheme returns the persisted theme. ErrNotFound means none was saved.
func LoadTheme(ctx context.Context, s Store) (model.Theme, error) {
	raw, err := s.Get(ctx, KeyRecentTheme)
	if err != nil {
		return nil, err
	}
	theme, err := model.DecodeTheme(raw)
	if err != nil {
		return nil, fmt.Errorf("reading persisted theme: %w", err)
	}
	if theme == nil {
		return nil, ErrNotFound
	}
	return theme, nil
}

// SaveTheme persists theme as the most recent one.
func SaveTheme(ctx context.Context, s Store, theme model.Theme) error {
	raw, err := json.Marshal(theme)
	if err != nil {
		return fmt.Errorf("encoding theme: %w", err)
	}
	return s.Put(ctx, KeyRecentTheme, raw)
}
