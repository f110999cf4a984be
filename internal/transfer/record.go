// Package transfer moves captured records from the capture device to the
// companion: a persisted pending queue, a sender that falls back to the
// queue, and MQTT and HTTP transports.
package transfer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
)

// Sentinel errors
var (
	ErrUnreachable     = errors.NewStd("companion unreachable")
	ErrRejected        = errors.NewStd("transfer rejected by companion")
	ErrMalformedRecord = errors.NewStd("malformed transfer record")
)

// TransferRecord is the reduced form of a record sent between devices:
// no photos, no group and a single note.
type TransferRecord struct {
	ID                 string    `json:"id"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	HorizontalAccuracy float64   `json:"horizontalAccuracy"`
	Altitude           *float64  `json:"altitude,omitempty"`
	Species            string    `json:"species"`
	Variety            *string   `json:"variety,omitempty"`
	Rootstock          *string   `json:"rootstock,omitempty"`
	Note               string    `json:"note,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Validate checks the position fields.
func (r *TransferRecord) Validate() error {
	return datastore.ValidatePosition(r.Latitude, r.Longitude, r.HorizontalAccuracy)
}

// Envelope is the wire payload of one delivery attempt.
type Envelope struct {
	Record TransferRecord `json:"record"`
	SentAt time.Time      `json:"sentAt"`
}

// EncodeEnvelope serializes env as JSON.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.New(err).
			Component("transfer").
			Category(errors.CategoryTransfer).
			Context("record_id", env.Record.ID).
			Build()
	}
	return data, nil
}

// DecodeEnvelope parses a payload produced by EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.New(errors.Join(ErrMalformedRecord, err)).
			Component("transfer").
			Category(errors.CategoryValidation).
			Context("bytes", len(data)).
			Build()
	}
	env.Record.Species = strings.TrimSpace(env.Record.Species)
	return env, nil
}

// ReceiveResult describes what the companion did with a delivery.
type ReceiveResult struct {
	RecordID   string `json:"recordId"`
	OriginalID string `json:"originalId,omitempty"`
	// Duplicate is set when the record was already stored; nothing was written.
	Duplicate bool `json:"duplicate"`
	// Remapped is set when the sender's id was missing or malformed and a
	// fresh one was minted.
	Remapped bool `json:"remapped"`
}

// Handler consumes deliveries on the companion side.
type Handler interface {
	ReceiveTransfer(ctx context.Context, env Envelope) (ReceiveResult, error)
}

// Transport delivers one envelope to the companion. A nil error means the
// companion confirmed receipt.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
	Name() string
}
