package database

import (
	"time"
)

func (db *PgRoomChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRoomChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRoomChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRoomChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (name, external_id, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, name, external_id, owner_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.OwnerId,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.OwnerId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgRoomChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, owner_id, created_at, updated_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.OwnerId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgRoomChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, name, owner_id, created_at, updated_at FROM rooms ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.OwnerId, &room.CreatedAt, &room.UpdatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}
	return rooms, err
}

// DeleteRoom removes the room and every message in it in one transaction,
// so a failure part way through leaves the store untouched.
func (db *PgRoomChatRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRoomChatRepository) CreateMessage(msg Message) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (external_id, room_id, account_id, content, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, external_id, room_id, account_id, content, created_at, updated_at",
		msg.ExternalId,
		msg.RoomId,
		msg.AccountId,
		msg.Content,
		msg.CreatedAt,
	)

	var m Message
	err := res.Scan(
		&m.Id,
		&m.ExternalId,
		&m.RoomId,
		&m.AccountId,
		&m.Content,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	m.Sender = msg.Sender

	return m, err
}

func (db *PgRoomChatRepository) GetMessageByExternalId(externalId string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.external_id, m.room_id, m.account_id, a.username, m.content, m.created_at, m.updated_at "+
			"FROM messages m JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.external_id = $1 LIMIT 1",
		externalId,
	)

	var m Message
	err := row.Scan(
		&m.Id,
		&m.ExternalId,
		&m.RoomId,
		&m.AccountId,
		&m.Sender,
		&m.Content,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	return m, err
}

// GetRecentMessages returns the most recent limit messages for the room,
// ordered oldest-first, which is the shape the join backlog needs.
func (db *PgRoomChatRepository) GetRecentMessages(roomId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.Query(
		"SELECT id, external_id, room_id, account_id, sender, content, created_at, updated_at FROM ("+
			"SELECT m.id, m.external_id, m.room_id, m.account_id, a.username AS sender, m.content, m.created_at, m.updated_at "+
			"FROM messages m JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.room_id = $1 ORDER BY m.id DESC LIMIT $2"+
			") recent ORDER BY id ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.ExternalId, &msg.RoomId, &msg.AccountId, &msg.Sender, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

// GetMessages is the paginated history read for the HTTP surface. before is
// an exclusive upper bound on the internal message id; zero means no bound.
func (db *PgRoomChatRepository) GetMessages(roomId, before, limit int) ([]Message, error) {
	var upper int = 1<<31 - 1
	if before > 0 {
		upper = before - 1
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.external_id, m.room_id, m.account_id, a.username, m.content, m.created_at, m.updated_at "+
			"FROM messages m JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.room_id = $1 AND m.id <= $2 ORDER BY m.id DESC LIMIT $3",
		roomId,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.ExternalId, &msg.RoomId, &msg.AccountId, &msg.Sender, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

func (db *PgRoomChatRepository) UpdateMessageContent(id int, content string) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1",
		id,
		content,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRoomChatRepository) DeleteMessage(id int) error {
	_, err := db.conn.Exec("DELETE FROM messages WHERE id = $1", id)

	return err
}
