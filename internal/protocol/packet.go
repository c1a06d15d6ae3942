// Package protocol implements the line-delimited JSON packet format spoken
// by fortune clients. Every packet is an envelope whose Payload field holds
// a second, independently encoded JSON document.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PacketType identifies the payload schema of a packet. Values are fixed by
// the deployed desktop client and must not be reordered.
type PacketType int

const (
	TypeLogin PacketType = iota
	TypeLoginSuccess
	TypeLoginFailed
	TypeGetFortune
	TypeFortuneResponse
	TypeTradeRequest        // reserved, ignored by the server
	TypeTradeResponse       // reserved, ignored by the server
	TypeFileTransferRequest // reserved, ignored by the server
	TypeFileTransferAck     // reserved, ignored by the server
	TypeBroadcast
	TypeUserList
	TypeDirectMessage
	TypeRegister
	TypeRegisterSuccess
	TypeRegisterFailed
	TypeSubmitFortune
	TypeGetHistory
	TypeHistoryResponse
	TypeGetMyFortunes
	TypeMyFortunesResponse
)

var typeNames = [...]string{
	"Login", "LoginSuccess", "LoginFailed", "GetFortune", "FortuneResponse",
	"TradeRequest", "TradeResponse", "FileTransferRequest", "FileTransferAck",
	"Broadcast", "UserList", "DirectMessage", "Register", "RegisterSuccess",
	"RegisterFailed", "SubmitFortune", "GetHistory", "HistoryResponse",
	"GetMyFortunes", "MyFortunesResponse",
}

func (t PacketType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "PacketType(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

// Packet is the wire envelope
type Packet struct {
	Type    PacketType `json:"Type"`
	Payload string     `json:"Payload"`
}

// DecodeError reports an envelope or payload that does not match its schema
type DecodeError struct {
	Type PacketType // zero when the envelope itself could not be decoded
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s packet: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes payload and wraps it in an envelope of the given type.
// The result carries no trailing newline; framing belongs to the transport.
func Encode(t PacketType, payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(Packet{Type: t, Payload: string(inner)})
}

// MustEncode is Encode for payloads that cannot fail to marshal
func MustEncode(t PacketType, payload any) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses one envelope. The payload is left encoded.
func Decode(line []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(line, &p); err != nil {
		return Packet{}, &DecodeError{Err: err}
	}
	return p, nil
}

// ExtractPayload decodes the payload of p into a T
func ExtractPayload[T any](p Packet) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(p.Payload), &v); err != nil {
		return v, &DecodeError{Type: p.Type, Err: err}
	}
	return v, nil
}
