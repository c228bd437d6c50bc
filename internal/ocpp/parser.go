package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"

	"chargehub/internal/ocpp/protocol"
)

// Message represents a parsed OCPP-J frame.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
}

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes []byte into a Message. CALL, CALLRESULT and CALLERROR frames
// are all accepted; results and errors carry acks for outbound commands.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, err
	}

	if len(array) < 3 {
		return nil, errors.New("ocpp: malformed frame")
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, err
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil {
		return nil, fmt.Errorf("ocpp: read unique id: %w", err)
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) < 4 {
			return nil, errors.New("ocpp: incomplete CALL frame")
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, fmt.Errorf("ocpp: read action: %w", err)
		}
		msg.Payload = array[3]
	case protocol.MessageTypeCallResult:
		msg.Payload = array[2]
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, errors.New("ocpp: incomplete CALLERROR frame")
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("ocpp: read error code: %w", err)
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, fmt.Errorf("ocpp: read error description: %w", err)
		}
	default:
		return nil, fmt.Errorf("ocpp: unsupported message type %d", msgType)
	}

	return msg, nil
}

// BuildCall builds a CALL frame for an outbound command.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallResult builds a standard CALLRESULT frame.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds a CALLERROR frame.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
