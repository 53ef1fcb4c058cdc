// Package protocol converts between websocket frames and session events.
//
// Every frame is a JSON envelope {"type": ..., "payload": ...}. Inbound
// payloads are checked against a JSON schema per event type; frames that
// fail are rejected here and never reach the state machine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/model"
	"github.com/BeiningSAN/market-panic-server/internal/session"
)

var (
	// ErrMalformedFrame is returned when a frame is not a JSON envelope.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownEvent is returned for an envelope type clients may not send.
	ErrUnknownEvent = errors.New("protocol: unknown event type")

	// ErrMalformedPayload is returned when a payload fails its schema.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
)

// MaxNameLength bounds player display names, in characters.
const MaxNameLength = 64

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outEnvelope struct {
	Type    session.Kind `json:"type"`
	Payload any          `json:"payload,omitempty"`
}

var payloadSchemas = map[string]*jsonschema.Schema{
	session.NameAttachPlayer: mustCompile(session.NameAttachPlayer,
		fmt.Sprintf(`{"type": "string", "minLength": 1, "maxLength": %d, "pattern": "\\S"}`, MaxNameLength)),
	session.NameSetDecision: mustCompile(session.NameSetDecision,
		`{"type": "string"}`),
	session.NameBeginRound: mustCompile(session.NameBeginRound,
		`{"type": "number", "minimum": 0, "maximum": 86400}`),
}

func mustCompile(name, schema string) *jsonschema.Schema {
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Errorf("add schema %s: %w", name, err))
	}
	s, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Errorf("compile schema %s: %w", name, err))
	}
	return s
}

// Decode parses one inbound frame received on conn.
func Decode(conn string, data []byte) (session.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case session.NameAttachHost:
		return session.AttachHost{Conn: conn}, nil

	case session.NameAttachPlayer:
		var name string
		if err := decodePayload(env, &name); err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: %s: blank name", ErrMalformedPayload, env.Type)
		}
		return session.AttachPlayer{Conn: conn, Name: name}, nil

	case session.NameSetDecision:
		var choice string
		if err := decodePayload(env, &choice); err != nil {
			return nil, err
		}
		return session.SetDecision{Conn: conn, Choice: choice}, nil

	case session.NameBeginRound:
		var duration float64
		if err := decodePayload(env, &duration); err != nil {
			return nil, err
		}
		return session.BeginRound{Conn: conn, Duration: duration}, nil

	case session.NameTriggerNews:
		return session.TriggerNews{Conn: conn}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

// decodePayload validates env.Payload against its schema, then unmarshals
// it into out. A missing payload is validated as null.
func decodePayload(env envelope, out any) error {
	raw := env.Payload
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	if err := payloadSchemas[env.Type].Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return nil
}

// Outbound frames carry prices and balances as JSON numbers, which is what
// browser clients of the original server read.
type newsFrame struct {
	Text   string      `json:"text"`
	Price  json.Number `json:"price"`
	Change json.Number `json:"change"`
	Pct    json.Number `json:"pct"`
}

type playerFrame struct {
	Name    string         `json:"name"`
	Balance json.Number    `json:"balance"`
	Choice  model.Decision `json:"choice"`
}

// Encode renders an outbound message as a frame.
func Encode(o session.Outbound) ([]byte, error) {
	data, err := json.Marshal(outEnvelope{Type: o.Kind, Payload: wirePayload(o.Payload)})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.Kind, err)
	}
	return data, nil
}

func wirePayload(p any) any {
	switch v := p.(type) {
	case session.NewsPayload:
		return newsFrame{
			Text:   v.Text,
			Price:  number(v.Price),
			Change: number(v.Change),
			Pct:    number(v.Pct),
		}
	case session.PlayersPayload:
		out := make(map[string]playerFrame, len(v))
		for id, pv := range v {
			out[id] = playerFrame{Name: pv.Name, Balance: number(pv.Balance), Choice: pv.Choice}
		}
		return out
	}
	return p
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// Reason maps a decode or transition error to a short metrics label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, session.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, session.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, session.ErrInvalidChoice):
		return "invalid_choice"
	}
	return "other"
}
