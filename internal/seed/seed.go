// Package seed holds the initial fortune catalogue.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

//go:embed fortunes.yaml
var catalogue []byte

type entry struct {
	Category string `yaml:"category"`
	Rarity   string `yaml:"rarity"`
	Text     string `yaml:"text"`
}

// Fortunes parses the embedded catalogue, stamping each fortune with at
func Fortunes(at time.Time) ([]*model.Fortune, error) {
	return parse(catalogue, at)
}

func parse(data []byte, at time.Time) ([]*model.Fortune, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}

	fortunes := make([]*model.Fortune, 0, len(entries))
	for i, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return nil, fmt.Errorf("catalogue entry %d: %w", i, model.ErrEmptyFortuneText)
		}
		category, err := model.ParseCategory(e.Category)
		if err != nil {
			return nil, fmt.Errorf("catalogue entry %d: %w", i, err)
		}
		rarity := model.RarityCommon
		if e.Rarity != "" {
			if rarity, err = model.ParseRarity(e.Rarity); err != nil {
				return nil, fmt.Errorf("catalogue entry %d: %w", i, err)
			}
		}
		fortunes = append(fortunes, &model.Fortune{
			Text:      text,
			Category:  category,
			Rarity:    rarity,
			CreatedAt: at,
		})
	}
	return fortunes, nil
}

// Apply loads the catalogue into store unless it already holds fortunes.
// It returns the number of fortunes inserted.
func Apply(ctx context.Context, store storage.Storage, at time.Time, logger *slog.Logger) (int, error) {
	fortunes, err := Fortunes(at)
	if err != nil {
		return 0, err
	}

	n, err := store.SeedFortunes(ctx, fortunes)
	if err != nil {
		return 0, fmt.Errorf("seed fortunes: %w", err)
	}

	if n == 0 {
		logger.Info("fortune store already populated, skipping seed")
	} else {
		logger.Info("seeded fortune catalogue", slog.Int("count", n))
	}
	return n, nil
}
