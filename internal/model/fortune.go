package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FortuneID uniquely identifies a stored fortune
type FortuneID int64

// Category groups fortunes by tone
type Category int

const (
	CategoryGeneral Category = iota
	CategoryFunny
	CategoryWise
	CategoryCursed
	CategoryMotivational
	CategoryRomantic
)

// DefaultCategory is the fallback pool when a category has no fortunes
const DefaultCategory = CategoryGeneral

var categoryNames = [...]string{"General", "Funny", "Wise", "Cursed", "Motivational", "Romantic"}

// Categories returns every category in wire order
func Categories() []Category {
	return []Category{
		CategoryGeneral,
		CategoryFunny,
		CategoryWise,
		CategoryCursed,
		CategoryMotivational,
		CategoryRomantic,
	}
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c >= CategoryGeneral && int(c) < len(categoryNames)
}

func (c Category) String() string {
	if !c.Valid() {
		return "Category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// ParseCategory accepts a category name (case-insensitive) or its number
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for i, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return Category(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Category(n).Valid() {
		return Category(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// UnmarshalJSON accepts either the wire number or the category name
func (c *Category) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseCategory)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Rarity describes how uncommon a fortune is
type Rarity int

const (
	RarityCommon Rarity = iota
	RarityRare
	RarityLegendary
	RarityCritical
)

var rarityNames = [...]string{"Common", "Rare", "Legendary", "Critical"}

// Valid reports whether r is a known rarity
func (r Rarity) Valid() bool {
	return r >= RarityCommon && int(r) < len(rarityNames)
}

func (r Rarity) String() string {
	if !r.Valid() {
		return "Rarity(" + strconv.Itoa(int(r)) + ")"
	}
	return rarityNames[r]
}

// ParseRarity accepts a rarity name (case-insensitive) or its number
func ParseRarity(s string) (Rarity, error) {
	s = strings.TrimSpace(s)
	for i, name := range rarityNames {
		if strings.EqualFold(name, s) {
			return Rarity(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Rarity(n).Valid() {
		return Rarity(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRarity, s)
}

// UnmarshalJSON accepts either the wire number or the rarity name
func (r *Rarity) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseRarity)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func unmarshalEnum[T ~int](data []byte, parse func(string) (T, error)) (T, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return parse(s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return parse(strconv.Itoa(n))
}

// LuckyNumberCount is how many lucky numbers accompany each retrieved fortune
const LuckyNumberCount = 6

// LuckyNumberMax is the largest lucky number (the smallest is 1)
const LuckyNumberMax = 49

// Fortune is a piece of divinatory text
type Fortune struct {
	ID            FortuneID
	Text          string
	Category      Category
	Rarity        Rarity
	AddedByUserID *UserID // nil for seeded fortunes and anonymous submissions
	CreatedAt     time.Time

	// LuckyNumbers is filled on retrieval and never persisted
	LuckyNumbers []int
}

// Clone returns a copy that shares no mutable state with f
func (f *Fortune) Clone() *Fortune {
	c := *f
	if f.AddedByUserID != nil {
		id := *f.AddedByUserID
		c.AddedByUserID = &id
	}
	if f.LuckyNumbers != nil {
		c.LuckyNumbers = append([]int(nil), f.LuckyNumbers...)
	}
	return &c
}

// SentinelFortuneText is the text of the fortune returned when nothing matches
const SentinelFortuneText = "No fortune could be found for this category!"

// NotFoundFortune is returned in place of an error when no fortune matches.
// It has no ID, so it is never recorded in history.
func NotFoundFortune() *Fortune {
	return &Fortune{
		Text:     SentinelFortuneText,
		Category: CategoryCursed,
		Rarity:   RarityCommon,
	}
}
