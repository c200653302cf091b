package database

import (
	"database/sql"
)

type PgRoomChatRepository struct {
	conn *sql.DB
}

func NewPgRoomChatRepository(dsn string) (*PgRoomChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRoomChatRepository{conn: db}, nil
}

func (db *PgRoomChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRoomChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
