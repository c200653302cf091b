package database

type RoomChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	ListRooms() ([]Room, error)
	DeleteRoom(id int) error
	CreateMessage(msg Message) (Message, error)
	GetMessageByExternalId(externalId string) (Message, error)
	GetRecentMessages(roomId, limit int) ([]Message, error)
	GetMessages(roomId, before, limit int) ([]Message, error)
	UpdateMessageContent(id int, content string) error
	DeleteMessage(id int) error
}
