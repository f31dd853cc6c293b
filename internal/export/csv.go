package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/suPer8Hu/chatvault/internal/chat"
)

// TimeLayout renders completion_created as ISO-8601 in UTC with milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var Header = []string{"model", "system_message", "prompt", "parameters", "completion", "completion_created", "finish_reason"}

// WriteCSV writes one line per request of a chat. The header is written
// even when rows is empty; rows without a request are skipped.
func WriteCSV(w io.Writer, rows []chat.ViewRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if row.RequestID == nil {
			continue
		}
		created := ""
		if row.CompletionCreated != nil {
			created = time.Unix(*row.CompletionCreated, 0).UTC().Format(TimeLayout)
		}
		rec := []string{
			str(row.Model),
			row.SystemMessage,
			str(row.Prompt),
			str(row.Parameters),
			str(row.Completion),
			created,
			str(row.FinishReason),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv request %d: %w", *row.RequestID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filename is the download name for a chat export.
func Filename(chatID int64, title string) string {
	if title == "" {
		return fmt.Sprintf("chat-%d.csv", chatID)
	}
	return fmt.Sprintf("chat-%d-%s.csv", chatID, slug(title))
}

func slug(s string) string {
	out := make([]rune, 0, len(s))
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			dash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r+'a'-'A')
			dash = false
		default:
			if !dash && len(out) > 0 {
				out = append(out, '-')
				dash = true
			}
		}
		if len(out) >= 40 {
			break
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
