// Package store provides smtpd.MailStore implementations: per-recipient
// mailbox files, a Badger database, an AMQP publisher, an in-memory store
// and a fan-out over several stores.
//
// Stores that persist or ship messages encode them as a Record in
// MessagePack:
//
//	data, err := record.ToMessagePack()
//	record, err := store.FromMessagePack(data)
package store

import (
	"bytes"
	"slices"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/smtpd/utils"
)

// Record is one delivered message: the DATA body as received and the
// recipients it was accepted for.
type Record struct {
	ID         string    `msg:"id"`
	ReceivedAt time.Time `msg:"received_at"`
	Recipients []string  `msg:"recipients"`
	Body       []byte    `msg:"body"`
}

var (
	_ msgp.Marshaler   = (*Record)(nil)
	_ msgp.Unmarshaler = (*Record)(nil)
	_ msgp.Sizer       = (*Record)(nil)
)

// NewRecord copies body and recipients into a Record with a fresh ID.
func NewRecord(body []byte, recipients []string) *Record {
	return &Record{
		ID:         utils.GenerateID(),
		ReceivedAt: time.Now().UTC(),
		Recipients: slices.Clone(recipients),
		Body:       bytes.Clone(body),
	}
}

// ToMessagePack encodes the record.
func (z *Record) ToMessagePack() ([]byte, error) {
	return z.MarshalMsg(nil)
}

// FromMessagePack decodes a record produced by ToMessagePack.
func FromMessagePack(data []byte) (*Record, error) {
	z := new(Record)
	if _, err := z.UnmarshalMsg(data); err != nil {
		return nil, err
	}
	return z, nil
}

// MarshalMsg implements msgp.Marshaler
func (z *Record) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, z.ID)
	o = msgp.AppendString(o, "received_at")
	o = msgp.AppendTime(o, z.ReceivedAt)
	o = msgp.AppendString(o, "recipients")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Recipients)))
	for _, r := range z.Recipients {
		o = msgp.AppendString(o, r)
	}
	o = msgp.AppendString(o, "body")
	o = msgp.AppendBytes(o, z.Body)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown fields are skipped.
func (z *Record) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "id":
			z.ID, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ID")
				return
			}
		case "received_at":
			z.ReceivedAt, bts, err = msgp.ReadTimeBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ReceivedAt")
				return
			}
		case "recipients":
			var zb0002 uint32
			zb0002, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Recipients")
				return
			}
			z.Recipients = make([]string, zb0002)
			for i := range z.Recipients {
				z.Recipients[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "Recipients", i)
					return
				}
			}
		case "body":
			z.Body, bts, err = msgp.ReadBytesBytes(bts, z.Body[:0])
			if err != nil {
				err = msgp.WrapError(err, "Body")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Record) Msgsize() (s int) {
	s = msgp.MapHeaderSize +
		3 + msgp.StringPrefixSize + len(z.ID) +
		12 + msgp.TimeSize +
		11 + msgp.ArrayHeaderSize
	for _, r := range z.Recipients {
		s += msgp.StringPrefixSize + len(r)
	}
	s += 5 + msgp.BytesPrefixSize + len(z.Body)
	return
}
