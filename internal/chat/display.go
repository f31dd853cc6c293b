package chat

type RowKind string

const (
	RowPrompt   RowKind = "prompt"
	RowResponse RowKind = "response"
	RowError    RowKind = "error"
)

const (
	AvatarUser      = "avatar/user"
	AvatarAssistant = "avatar/assistant"
	AvatarError     = "avatar/error"
)

// DisplayRow is one rendered line of a transcript.
type DisplayRow struct {
	Kind      RowKind `json:"kind"`
	Text      string  `json:"text"`
	Avatar    string  `json:"avatar"`
	RequestID int64   `json:"request_id,omitempty"`
}

// TranscriptRows renders history as alternating prompt and response rows.
func TranscriptRows(history []HistoryEntry) []DisplayRow {
	rows := make([]DisplayRow, 0, 2*len(history))
	for _, h := range history {
		rows = append(rows,
			DisplayRow{Kind: RowPrompt, Text: h.Prompt, Avatar: AvatarUser, RequestID: h.RequestID},
			DisplayRow{Kind: RowResponse, Text: h.Completion, Avatar: AvatarAssistant, RequestID: h.RequestID},
		)
	}
	return rows
}

// ErrorRow renders a failed exchange.
func ErrorRow(err error) DisplayRow {
	return DisplayRow{Kind: RowError, Text: err.Error(), Avatar: AvatarError}
}
