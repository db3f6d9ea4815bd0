package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Dijker/com.netatmo/internal/settings"
)

// KeyPrefix prefixes every persisted account in the settings store.
const KeyPrefix = "accounts/"

// persistTimeout bounds a token write triggered by a rotation hook, which
// has no caller context.
const persistTimeout = 5 * time.Second

// StoredTokens is the persisted form of an account's token pair.
type StoredTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SavedAt      time.Time `json:"saved_at"`
}

func accountKey(accountID string) string {
	return KeyPrefix + accountID
}

func accountFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, KeyPrefix)
	return id, ok && id != ""
}

func saveTokens(ctx context.Context, store settings.Store, accountID string, tok StoredTokens) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if err := store.Set(ctx, accountKey(accountID), data); err != nil {
		return fmt.Errorf("persisting tokens for account %s: %w", accountID, err)
	}
	return nil
}

// LoadTokens reads the persisted token pair of an account.
func LoadTokens(ctx context.Context, store settings.Store, accountID string) (StoredTokens, bool, error) {
	data, found, err := store.Get(ctx, accountKey(accountID))
	if err != nil || !found {
		return StoredTokens{}, false, err
	}

	var tok StoredTokens
	if err := json.Unmarshal(data, &tok); err != nil {
		return StoredTokens{}, false, fmt.Errorf("decoding tokens for account %s: %w", accountID, err)
	}
	return tok, true, nil
}
