package ingest

// ChatMessage is the chat-provider inbound shape (BotConversa-style). The
// provider is loose about field names and may send everything as query
// parameters, so both spellings of each field are accepted.
type ChatMessage struct {
	Text      string `json:"text" query:"text"`
	Message   string `json:"message" query:"message"`
	From      string `json:"from" query:"from"`
	Phone     string `json:"phone" query:"phone"`
	ClientRef string `json:"client_ref" query:"client_ref"`
	ID        string `json:"id" query:"id"`
}

// Normalize resolves the field aliases and pulls an embedded reference out of
// the message text. A structured client_ref only applies when the text does
// not carry one.
func (m *ChatMessage) Normalize() (*Facts, error) {
	text := m.Text
	if text == "" {
		text = m.Message
	}

	from := m.From
	if from == "" {
		from = m.Phone
	}

	ref := ExtractClientRef(text)
	if ref == "" {
		ref = m.ClientRef
	}
	if ref == "" {
		ref = m.ID
	}

	return &Facts{
		PhoneDigits: NormalizePhone(from),
		ClientRef:   ref,
		FreeText:    text,
	}, nil
}
