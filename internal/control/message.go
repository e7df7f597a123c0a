// Package control implements request/response messaging between the
// orchestrator and node agents on top of per-node single-slot mailboxes in
// the coordination store.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/hashring"
)

// Verb names a control request or its acknowledgment.
type Verb string

const (
	VerbInit             Verb = "INIT"
	VerbInitAck          Verb = "INIT_ACK"
	VerbStart            Verb = "START"
	VerbStartAck         Verb = "START_ACK"
	VerbStop             Verb = "STOP"
	VerbStopAck          Verb = "STOP_ACK"
	VerbShutdown         Verb = "SHUTDOWN"
	VerbShutdownAck      Verb = "SHUTDOWN_ACK"
	VerbLock             Verb = "LOCK"
	VerbLockAck          Verb = "LOCK_ACK"
	VerbUnlock           Verb = "UNLOCK"
	VerbUnlockAck        Verb = "UNLOCK_ACK"
	VerbMoveData         Verb = "MOVE_DATA"
	VerbMoveDataAck      Verb = "MOVE_DATA_ACK"
	VerbTransferReq      Verb = "TRANSFER_REQ"
	VerbTransferReqAck   Verb = "TRANSFER_REQ_ACK"
	VerbTransferBegin    Verb = "TRANSFER_BEGIN"
	VerbTransferComplete Verb = "TRANSFER_COMPLETE"
	VerbDelete           Verb = "DELETE"
	VerbDeleteAck        Verb = "DELETE_ACK"
)

// replies maps each request verb to the verb that answers it. TRANSFER_BEGIN
// has no ack; each endpoint answers it with TRANSFER_COMPLETE once its side
// of the stream is done.
var replies = map[Verb]Verb{
	VerbInit:          VerbInitAck,
	VerbStart:         VerbStartAck,
	VerbStop:          VerbStopAck,
	VerbShutdown:      VerbShutdownAck,
	VerbLock:          VerbLockAck,
	VerbUnlock:        VerbUnlockAck,
	VerbMoveData:      VerbMoveDataAck,
	VerbTransferReq:   VerbTransferReqAck,
	VerbTransferBegin: VerbTransferComplete,
	VerbDelete:        VerbDeleteAck,
}

// Reply returns the verb that answers v.
func (v Verb) Reply() (Verb, bool) {
	r, ok := replies[v]
	return r, ok
}

// IsRequest reports whether v is a request verb.
func (v Verb) IsRequest() bool {
	_, ok := replies[v]
	return ok
}

// Message is the value written into a mailbox.
//
// Payload by verb:
//
//	INIT              Value = committed-ring metadata of the candidate ring
//	MOVE_DATA         Range, Address = destination host:port
//	TRANSFER_REQ_ACK  Value = intake port
//	DELETE            Range
//
// A reply carries the request's ID. A non-empty Error marks a reply as a
// refusal.
type Message struct {
	ID      string          `json:"id"`
	Sender  string          `json:"sender"`
	Verb    Verb            `json:"verb"`
	Value   string          `json:"value,omitempty"`
	Range   *hashring.Range `json:"range,omitempty"`
	Address string          `json:"address,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Encode serializes m.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control message: %w", err)
	}
	return data, nil
}

// Decode parses a mailbox value. Anything that is not a well-formed message
// with a known verb is an ErrProtocol.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", cluster.ErrProtocol, err)
	}
	if m.Verb == "" || m.Sender == "" {
		return Message{}, fmt.Errorf("%w: missing verb or sender", cluster.ErrProtocol)
	}
	if !m.Verb.IsRequest() && !isReply(m.Verb) {
		return Message{}, fmt.Errorf("%w: unknown verb %q", cluster.ErrProtocol, m.Verb)
	}
	return m, nil
}

func isReply(v Verb) bool {
	for _, r := range replies {
		if r == v {
			return true
		}
	}
	return false
}

// ReplyTo builds the reply to req from sender.
func ReplyTo(req Message, sender string) Message {
	verb, _ := req.Verb.Reply()
	return Message{ID: req.ID, Sender: sender, Verb: verb}
}
