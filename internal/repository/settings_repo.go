package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// SettingsRepository persists small named values in the `settings`
// collection, one document per key. Used to cache the quota record.
type SettingsRepository struct {
	client *firestore.Client
}

func NewSettingsRepository(client *firestore.Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

type settingDoc struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key is required")
	}
	ref := r.client.Collection("settings").Doc(key)
	if _, err := ref.Set(ctx, settingDoc{Value: value, UpdatedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	ref := r.client.Collection("settings").Doc(key)
	snap, err := ref.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	var doc settingDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("decode setting %s: %w", key, err)
	}
	return doc.Value, nil
}
