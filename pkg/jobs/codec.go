package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ErrMalformed indicates a message that cannot be decoded into a Job.
var ErrMalformed = errors.New("malformed job")

// CompressThreshold is the encoded size above which messages are zstd
// compressed.
const CompressThreshold = 4 << 10

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Shared coders; EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// Job is a payload with its queue identity.
type Job struct {
	ID       string
	Enqueued time.Time
	Payload  Payload
}

// NewJob wraps p with a fresh id.
func NewJob(p Payload) Job {
	return Job{ID: uuid.NewString(), Enqueued: time.Now().UTC(), Payload: p}
}

type envelope struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Enqueued time.Time       `json:"enqueued"`
	Body     json.RawMessage `json:"body"`
}

// Encode serialises j as a JSON envelope, compressed when large.
func Encode(j Job) ([]byte, error) {
	if j.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	body, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", j.Payload.Kind(), err)
	}
	data, err := json.Marshal(envelope{ID: j.ID, Kind: j.Payload.Kind(), Enqueued: j.Enqueued, Body: body})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(data) > CompressThreshold {
		return encoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Job, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return Job{}, fmt.Errorf("%w: decompress: %v", ErrMalformed, err)
		}
		data = raw
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Job{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	v, err := newPayload(env.Kind)
	if err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(env.Body, v); err != nil {
		return Job{}, fmt.Errorf("%w: %s body: %v", ErrMalformed, env.Kind, err)
	}
	return Job{ID: env.ID, Enqueued: env.Enqueued, Payload: deref(v)}, nil
}
