package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id         int
	ExternalId string
	Name       string
	OwnerId    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Message struct {
	Id         int
	ExternalId string
	RoomId     int
	AccountId  int
	Sender     string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name       string `json:"name"`
	ExternalId string `json:"external_id"`
	OwnerId    int    `json:"-"`
}
