package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/fortunegame/internal/protocol"
)

// Output handles formatting output based on the configured format
type Output struct {
	w      io.Writer
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(w io.Writer, format string) *Output {
	return &Output{w: w, format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case FortuneView:
		o.printFortune(v)
	case FortuneList:
		o.printFortuneList(v)
	case HistoryList:
		o.printHistory(v)
	case UserList:
		o.printUsers(v)
	case BroadcastEvent:
		o.printBroadcast(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// FortuneView is a fortune with its enums spelled out
type FortuneView struct {
	ID           int64  `json:"id"`
	Text         string `json:"text"`
	Category     string `json:"category"`
	Rarity       string `json:"rarity"`
	SubmittedBy  *int64 `json:"submitted_by,omitempty"`
	LuckyNumbers []int  `json:"lucky_numbers,omitempty"`
}

// NewFortuneView converts a wire fortune for display
func NewFortuneView(f protocol.Fortune) FortuneView {
	return FortuneView{
		ID:           f.ID,
		Text:         f.Text,
		Category:     f.Category.String(),
		Rarity:       f.Rarity.String(),
		SubmittedBy:  f.AddedByUserID,
		LuckyNumbers: f.LuckyNumbers,
	}
}

// FortuneList is a list of submitted fortunes
type FortuneList []FortuneView

// HistoryView is one delivered fortune
type HistoryView struct {
	Text   string    `json:"text"`
	Rarity string    `json:"rarity"`
	Date   time.Time `json:"date"`
}

// HistoryList is a user's delivery history, newest first
type HistoryList []HistoryView

// UserList is the set of users currently logged in
type UserList struct {
	Users []string `json:"users"`
}

// BroadcastEvent is a fortune received from the multicast group
type BroadcastEvent struct {
	Time    time.Time   `json:"time"`
	Fortune FortuneView `json:"fortune"`
}

// HealthResult is the gateway health response
type HealthResult struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (o *Output) printFortune(f FortuneView) {
	fmt.Fprintf(o.w, "%q\n", f.Text)
	fmt.Fprintf(o.w, "Category: %s\n", f.Category)
	fmt.Fprintf(o.w, "Rarity: %s\n", f.Rarity)
	if len(f.LuckyNumbers) > 0 {
		fmt.Fprintf(o.w, "Lucky numbers: %s\n", joinInts(f.LuckyNumbers))
	}
}

func (o *Output) printFortuneList(list FortuneList) {
	if len(list) == 0 {
		fmt.Fprintln(o.w, "No fortunes submitted")
		return
	}
	for _, f := range list {
		fmt.Fprintf(o.w, "#%d [%s] %s\n", f.ID, f.Category, f.Text)
	}
}

func (o *Output) printHistory(list HistoryList) {
	if len(list) == 0 {
		fmt.Fprintln(o.w, "No fortunes yet")
		return
	}
	for _, h := range list {
		fmt.Fprintf(o.w, "%s  %-9s %s\n", h.Date.Local().Format("2006-01-02 15:04"), h.Rarity, h.Text)
	}
}

func (o *Output) printUsers(u UserList) {
	fmt.Fprintf(o.w, "Online (%d):\n", len(u.Users))
	for _, name := range u.Users {
		fmt.Fprintf(o.w, "  - %s\n", name)
	}
}

func (o *Output) printBroadcast(e BroadcastEvent) {
	fmt.Fprintf(o.w, "[%s] %s (%s)\n", e.Time.Format("2006-01-02 15:04:05"), e.Fortune.Text, e.Fortune.Rarity)
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	fmt.Fprintf(o.w, "Sessions: %d\n", h.Sessions)
	fmt.Fprintf(o.w, "Connections: %d\n", h.Connections)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
