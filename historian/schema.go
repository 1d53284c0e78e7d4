package historian

import "time"

// CanonicalItem is one normalized alert item inside a message.
type CanonicalItem struct {
	URL           string     `json:"url"`
	URLNormalized string     `json:"url_normalized"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	SourceDomain  string     `json:"source_domain"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// CanonicalPayload is one ingested source unit (one alert email or one export
// entry) carrying its normalized items. Source is the checkpoint scope;
// Cursor is the optional ordinal cursor (mailbox UID), 0 when absent.
type CanonicalPayload struct {
	Source          string          `json:"source"`
	SourceAccount   string          `json:"source_account"`
	SourceMessageID string          `json:"source_message_id"`
	Cursor          int64           `json:"cursor,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	Topic           string          `json:"topic"`
	QueryRaw        string          `json:"query_raw,omitempty"`
	Items           []CanonicalItem `json:"items"`
}

// MessageKey derives the payload's dedup key.
func (p CanonicalPayload) MessageKey() string {
	return MakeMessageKey(p.SourceAccount, p.SourceMessageID)
}
