package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	OwnerId     int       `json:"owner_id"`
	MemberCount int       `json:"member_count,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Message is the canonical record relayed to room members. Id is the durable
// id assigned at persistence time. CorrelationId echoes the sender's token on
// message-created broadcasts so the sending client can upgrade its optimistic
// echo in place instead of rendering a duplicate.
type Message struct {
	Id            string    `json:"id"`
	RoomId        string    `json:"room_id"`
	SenderId      int       `json:"sender_id"`
	Sender        string    `json:"sender"`
	Content       string    `json:"content"`
	CorrelationId string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
