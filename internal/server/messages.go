package server

import (
	"net/http"
	"time"

	"github.com/cpayne/go-roomchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for everything a connection sends. Exactly
// one of the operation fields is set.
type ClientMessage struct {
	BaseMessage
	Join       *Join       `json:"join,omitempty"`
	Leave      *Leave      `json:"leave,omitempty"`
	Publish    *Publish    `json:"publish,omitempty"`
	Edit       *Edit       `json:"edit,omitempty"`
	Delete     *Delete     `json:"delete,omitempty"`
	DeleteRoom *DeleteRoom `json:"delete_room,omitempty"`
	Heartbeat  *Heartbeat  `json:"heartbeat,omitempty"`

	client *Client `json:"-"`
	// disconnect marks messages synthesized during connection teardown,
	// which must not be acknowledged.
	disconnect bool `json:"-"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Publish struct {
	RoomId        string `json:"room_id"`
	Content       string `json:"content"`
	CorrelationId string `json:"correlation_id"`
}

type Edit struct {
	MessageId string `json:"message_id"`
	RoomId    string `json:"room_id"`
	Content   string `json:"content"`
}

type Delete struct {
	MessageId string `json:"message_id"`
	RoomId    string `json:"room_id"`
}

type DeleteRoom struct {
	RoomId string `json:"room_id"`
}

type Heartbeat struct{}

// ServerMessage is the envelope for everything sent to a connection: acks
// (Response, keyed to the request id), message-created broadcasts (Message),
// the private join backlog, and one-way notifications.
type ServerMessage struct {
	BaseMessage
	Response     *Response       `json:"response,omitempty"`
	Message      *types.Message  `json:"message,omitempty"`
	Backlog      []types.Message `json:"backlog,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode  int            `json:"response_code"`
	Error         string         `json:"error,omitempty"`
	CorrelationId string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

type Notification struct {
	MessageEdited  *MessageEdited  `json:"message_edited,omitempty"`
	MessageDeleted *MessageDeleted `json:"message_deleted,omitempty"`
	RoomDeleted    *RoomDeleted    `json:"room_deleted,omitempty"`
}

type MessageEdited struct {
	MessageId string    `json:"message_id"`
	RoomId    string    `json:"room_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
	RoomId    string `json:"room_id"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

// AckSent confirms a relayed message with its durable id and server
// timestamp, echoing the correlation token the sender attached.
func AckSent(id int, correlationId, durableId string, ts time.Time) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: ts,
		},
		Response: &Response{
			ResponseCode:  http.StatusOK,
			CorrelationId: correlationId,
			Data: map[string]any{
				"durable_id": durableId,
				"timestamp":  ts,
			},
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room does not exist",
		},
	}
}

func ErrMessageNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "message does not exist",
		},
	}
}

func ErrNotAMember(id int, correlationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode:  http.StatusForbidden,
			Error:         "not a member",
			CorrelationId: correlationId,
		},
	}
}

func ErrEmptyMessage(id int, correlationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode:  http.StatusBadRequest,
			Error:         "message content is empty",
			CorrelationId: correlationId,
		},
	}
}

func ErrNotAuthor(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not the author",
		},
	}
}

func ErrNotOwner(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not the room owner",
		},
	}
}

func ErrInternalError(id int, correlationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode:  http.StatusInternalServerError,
			Error:         "internal server error",
			CorrelationId: correlationId,
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
