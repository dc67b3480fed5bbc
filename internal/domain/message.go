package domain

import "time"

// ChatMessage is a persisted user message. It is created once by the chat
// message core and never mutated afterwards.
type ChatMessage struct {
	ID              string      `json:"id"`
	From            string      `json:"from"`
	DestinationID   string      `json:"destinationId"`
	DestinationType ContactType `json:"destinationType"`
	Content         string      `json:"content"`
	MimeType        string      `json:"mimeType"`
	Date            time.Time   `json:"date"`
}
