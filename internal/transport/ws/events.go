package ws

import (
	"encoding/json"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Server frame types.
const (
	frameAck            = "ack"
	frameMessageNew     = "message:new"
	frameMessageEdited  = "message:edited"
	frameMessageDeleted = "message:deleted"
	framePong           = "pong"
	frameError          = "error"
)

type ackPayload struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Message   json.RawMessage `json:"message"`
	Error     string          `json:"error"`
}

// dispatch turns one server frame into an ack resolution or a bus event.
// It never calls the sync engine; the engine subscribes to the bus.
func (c *Client) dispatch(env envelope) {
	switch env.Type {
	case frameAck:
		c.handleAck(env)
	case frameMessageNew, frameMessageEdited:
		m, err := transport.DecodeMessage(env.Payload)
		if err != nil {
			c.logger.Warn("dropping undecodable message", zap.String("type", env.Type), zap.Error(err))
			return
		}
		kind := bus.SocketMessageNew
		if env.Type == frameMessageEdited {
			kind = bus.SocketMessageEdited
		}
		c.bus.Publish(bus.Now(kind, m))
	case frameMessageDeleted:
		id, convID, err := transport.DecodeDeleted(env.Payload)
		if err != nil || id == "" {
			c.logger.Warn("dropping undecodable deletion", zap.Error(err))
			return
		}
		c.bus.Publish(bus.Now(bus.SocketMessageDeleted, transport.MessageDeleted{ID: id, ConversationID: convID}))
	case framePong:
	case frameError:
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warn("server error frame", zap.String("message", p.Message))
	default:
		c.logger.Debug("ignoring frame", zap.String("type", env.Type))
	}
}

func (c *Client) handleAck(env envelope) {
	var p ackPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.logger.Warn("dropping undecodable ack", zap.Error(err))
		return
	}
	reqID := env.RequestID
	if reqID == "" {
		reqID = p.RequestID
	}
	ack := transport.Ack{Success: p.Success, Error: p.Error}
	if p.Success && len(p.Message) > 0 && p.Message[0] == '{' {
		m, err := transport.DecodeMessage(p.Message)
		if err != nil {
			c.logger.Warn("ack carries undecodable message", zap.Error(err))
		} else {
			ack.Message = &m
		}
	}
	c.resolve(reqID, ack)
}
