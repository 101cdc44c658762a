package core

import (
	"strings"
	"time"
	"unicode"
)

// Message is one check-in fetched from the chat platform. It is never persisted.
type Message struct {
	ID         int64
	Timestamp  int64 // seconds since epoch
	Content    string
	SenderID   int64
	SenderName string
	AvatarURL  string
}

// Time converts the epoch timestamp to UTC.
func (m Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

// Person is the persisted record for one tracked recurser.
type Person struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	AvatarURL         string    `json:"profile_picture_url"`
	MessageCount      int64     `json:"zulip_messages"`
	MessagesUpdatedAt time.Time `json:"zulip_messages_updated_at"`
	Journey           string    `json:"journey"`
	JourneyUpdatedAt  time.Time `json:"journey_updated_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Slug returns the URL form of the person's name.
func (p Person) Slug() string { return Slug(p.Name) }

// JourneyEvent is broadcast to live clients whenever a journey is written.
type JourneyEvent struct {
	PersonID     string    `json:"personId"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	MessageCount int64     `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Slug lowercases name and joins its words with "-".
func Slug(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	return strings.Join(fields, "-")
}
