package ocpp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"chargehub/internal/ocpp/protocol"
)

// HandlerFunc processes a message payload and returns the response body.
type HandlerFunc func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, chargerID string, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, fmt.Errorf("ocpp: unsupported action %s", msg.Action)
	}
	return handler(ctx, chargerID, msg.Payload)
}

// ResultSink receives CALLRESULT / CALLERROR frames that acknowledge
// outbound commands. Implemented by the command dispatcher.
type ResultSink interface {
	Resolve(uniqueID string, payload json.RawMessage, callErr error)
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser  *Parser
	router  *Router
	results ResultSink
	logger  *zap.Logger
}

// NewProcessor builds Processor. results may be nil when the hub sends no
// outbound commands.
func NewProcessor(parser *Parser, router *Router, results ResultSink, logger *zap.Logger) *Processor {
	return &Processor{
		parser:  parser,
		router:  router,
		results: results,
		logger:  logger,
	}
}

// Process handles a raw inbound frame and returns the response frame bytes,
// if any. Result frames resolve pending outbound commands and produce no
// response.
func (p *Processor) Process(ctx context.Context, chargerID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		if p.results != nil {
			p.results.Resolve(msg.UniqueID, msg.Payload, nil)
		}
		return nil, nil
	case protocol.MessageTypeCallError:
		if p.results != nil {
			p.results.Resolve(msg.UniqueID, nil, fmt.Errorf("ocpp: call error %s: %s", msg.ErrorCode, msg.ErrorDescription))
		}
		return nil, nil
	}

	responsePayload, err := p.router.Route(ctx, chargerID, msg)
	if err != nil {
		p.logger.Warn("ocpp handler failed",
			zap.String("charger_id", chargerID), zap.String("action", msg.Action), zap.Error(err))
		return BuildCallError(msg.UniqueID, "InternalError", err.Error())
	}

	if responsePayload == nil {
		return nil, nil
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.Error(err))
		return nil, err
	}

	return respBytes, nil
}

// Decode convenience helper for handlers.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
