package protocol

import (
	"time"

	"github.com/mcoot/fortunegame/internal/model"
)

// Reply texts understood by the desktop client
const (
	RegisterSuccessMessage = "Registration successful! You can login now."
	UsernameTakenMessage   = "Username already exists."
	MissingFieldsMessage   = "Username and password are required."
	InvalidLoginMessage    = "Invalid username or password."
)

// WelcomeMessage is the LoginSuccess payload for username
func WelcomeMessage(username string) string {
	return "Welcome back " + username
}

// Credentials is the payload of Login and Register
type Credentials struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

// FortuneRequest is the payload of GetFortune. A nil Category means any.
type FortuneRequest struct {
	Category *model.Category `json:"Category,omitempty"`
}

// FortuneSubmission is the payload of SubmitFortune
type FortuneSubmission struct {
	Text     string         `json:"Text"`
	Category model.Category `json:"Category"`
}

// DirectMessage is the payload of DirectMessage in both directions
type DirectMessage struct {
	FromUser string `json:"FromUser"`
	ToUser   string `json:"ToUser"`
	Message  string `json:"Message"`
}

// Fortune is the wire form of a fortune
type Fortune struct {
	ID            int64          `json:"Id"`
	Text          string         `json:"Text"`
	Category      model.Category `json:"Category"`
	Rarity        model.Rarity   `json:"Rarity"`
	AddedByUserID *int64         `json:"AddedByUserId"`
	LuckyNumbers  []int          `json:"LuckyNumbers"`
}

// HistoryItem is one row of a HistoryResponse
type HistoryItem struct {
	FortuneText string    `json:"FortuneText"`
	Rarity      string    `json:"Rarity"`
	Date        time.Time `json:"Date"`
}

// FromFortune converts a model fortune to its wire form
func FromFortune(f *model.Fortune) Fortune {
	out := Fortune{
		ID:           int64(f.ID),
		Text:         f.Text,
		Category:     f.Category,
		Rarity:       f.Rarity,
		LuckyNumbers: f.LuckyNumbers,
	}
	if out.LuckyNumbers == nil {
		out.LuckyNumbers = []int{}
	}
	if f.AddedByUserID != nil {
		id := int64(*f.AddedByUserID)
		out.AddedByUserID = &id
	}
	return out
}

// FromFortunes converts a list of model fortunes, never returning nil
func FromFortunes(fs []*model.Fortune) []Fortune {
	out := make([]Fortune, 0, len(fs))
	for _, f := range fs {
		out = append(out, FromFortune(f))
	}
	return out
}

// ToModel converts a wire fortune back to the model type
func (f Fortune) ToModel() *model.Fortune {
	out := &model.Fortune{
		ID:           model.FortuneID(f.ID),
		Text:         f.Text,
		Category:     f.Category,
		Rarity:       f.Rarity,
		LuckyNumbers: f.LuckyNumbers,
	}
	if f.AddedByUserID != nil {
		id := model.UserID(*f.AddedByUserID)
		out.AddedByUserID = &id
	}
	return out
}

// FromHistory converts history records, never returning nil
func FromHistory(records []model.HistoryRecord) []HistoryItem {
	out := make([]HistoryItem, 0, len(records))
	for _, r := range records {
		out = append(out, HistoryItem{
			FortuneText: r.FortuneText,
			Rarity:      r.Rarity.String(),
			Date:        r.Date,
		})
	}
	return out
}
