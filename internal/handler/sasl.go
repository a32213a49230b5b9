package handler

import (
	"encoding/base64"
	"strings"
)

// SASLPhase is one state in the AUTHENTICATE state machine spec.md §4.5
// defines: None -> MechanismSent(mech) -> AwaitingData -> Success |
// Failed(reason) | Aborted.
type SASLPhase int

const (
	SASLNone SASLPhase = iota
	SASLMechanismSent
	SASLAwaitingData
	SASLSuccess
	SASLFailed
	SASLAborted
)

// maxSASLChunk is the per-AUTHENTICATE-line base64 payload cap; longer
// payloads are split across multiple lines and reassembled here, per
// spec.md §4.5 and §8's "base64 SASL chunks exactly 400 bytes".
const maxSASLChunk = 400

// SASLState tracks one connection's AUTHENTICATE progress.
type SASLState struct {
	State     SASLPhase
	Mechanism string
	buf       strings.Builder
}

// reset returns the state machine to None, used after success, failure,
// or an explicit abort.
func (s *SASLState) reset() {
	s.State = SASLNone
	s.Mechanism = ""
	s.buf.Reset()
}

// beginMechanism transitions None -> MechanismSent for a supported
// mechanism name (already upper-cased by the caller).
func (s *SASLState) beginMechanism(mech string) {
	s.State = SASLMechanismSent
	s.Mechanism = mech
	s.buf.Reset()
}

// feed appends one AUTHENTICATE data line's payload. A bare "+" means an
// empty chunk. A chunk shorter than maxSASLChunk terminates the stream
// and the accumulated, decoded payload is returned with complete=true.
// A "*" payload aborts the exchange.
func (s *SASLState) feed(payload string) (decoded []byte, complete bool, aborted bool) {
	if payload == "*" {
		s.State = SASLAborted
		return nil, false, true
	}
	s.State = SASLAwaitingData
	if payload != "+" {
		s.buf.WriteString(payload)
	}
	if len(payload) < maxSASLChunk {
		raw, err := base64.StdEncoding.DecodeString(s.buf.String())
		s.buf.Reset()
		if err != nil {
			s.State = SASLFailed
			return nil, true, false
		}
		return raw, true, false
	}
	return nil, false, false
}

// ParsePlain splits a SASL PLAIN payload ("authzid\0authcid\0password")
// into its three fields.
func ParsePlain(payload []byte) (authzid, authcid, password string, ok bool) {
	parts := strings.SplitN(string(payload), "\x00", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// EncodeChunks splits data into base64-encoded AUTHENTICATE chunks no
// larger than maxSASLChunk characters, terminated by a trailing "+" when
// the final chunk happens to be exactly the chunk size (so the peer can
// tell the stream ended rather than was merely chunk-aligned).
func EncodeChunks(data []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if encoded == "" {
		return []string{"+"}
	}
	var chunks []string
	for len(encoded) > 0 {
		n := maxSASLChunk
		if n > len(encoded) {
			n = len(encoded)
		}
		chunks = append(chunks, encoded[:n])
		encoded = encoded[n:]
	}
	if len(chunks[len(chunks)-1]) == maxSASLChunk {
		chunks = append(chunks, "+")
	}
	return chunks
}
