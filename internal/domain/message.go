package domain

import "time"

type MessageSender string

const (
	MessageSenderSystem      MessageSender = "system"
	MessageSenderParticipant MessageSender = "participant"
)

// Message is an immutable entry of a process message log.
type Message struct {
	Sender    MessageSender `json:"sender"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}
