package model

import "strings"

// EmailRecord is one email message as handed to the extraction pipeline.
// Records are produced by a mail source and treated as read-only.
type EmailRecord struct {
	ID             string   `json:"id"`
	ThreadID       string   `json:"threadId"`
	Subject        string   `json:"subject"`
	From           string   `json:"from"`
	To             string   `json:"to,omitempty"`
	Snippet        string   `json:"snippet"`
	Date           string   `json:"date"` // source-provided, not guaranteed sortable
	FullBody       string   `json:"fullBody,omitempty"`
	UnsubscribeURL string   `json:"unsubscribeUrl,omitempty"` // from the List-Unsubscribe header
	LabelIDs       []string `json:"labelIds,omitempty"`
}

// HasLabel reports whether the record carries the given label id.
func (e EmailRecord) HasLabel(label string) bool {
	for _, l := range e.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// SenderDomain returns the domain of the From address for low-cardinality
// logging, e.g. "Netflix <info@mailer.netflix.com>" -> "mailer.netflix.com".
func SenderDomain(from string) string {
	addr := from
	if start := strings.LastIndex(addr, "<"); start >= 0 {
		addr = addr[start+1:]
		if end := strings.Index(addr, ">"); end >= 0 {
			addr = addr[:end]
		}
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
