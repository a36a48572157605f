package kv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/messtore/es"
)

const recordVersion byte = 1

var errCorruptRecord = errors.New("kv: corrupt record")

// encodeRecord serializes m as
//
//	version | gp | position | ord | time_ms | stream | type | id | data | flag [metadata]
//
// with uvarint integers (time as varint) and uvarint-length-prefixed bytes.
// flag is 1 when metadata is present, so nil and empty metadata stay distinct.
func encodeRecord(m *es.Message) []byte {
	size := 1 + 4*binary.MaxVarintLen64 +
		3*binary.MaxVarintLen32 + len(m.StreamName) + len(m.MessageType) + len(m.ID) +
		binary.MaxVarintLen32 + len(m.Data) +
		1 + binary.MaxVarintLen32 + len(m.Metadata)

	b := make([]byte, 0, size)
	b = append(b, recordVersion)
	b = binary.AppendUvarint(b, m.GlobalPosition)
	b = binary.AppendUvarint(b, m.Position)
	b = binary.AppendUvarint(b, m.Ord)
	b = binary.AppendVarint(b, m.Time.UnixMilli())
	b = appendBytes(b, []byte(m.StreamName))
	b = appendBytes(b, []byte(m.MessageType))
	b = appendBytes(b, []byte(m.ID))
	b = appendBytes(b, m.Data)
	if m.Metadata == nil {
		return append(b, 0)
	}
	b = append(b, 1)
	return appendBytes(b, m.Metadata)
}

func appendBytes(b, v []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(v)))
	return append(b, v...)
}

// decodeRecord parses a record. The returned message does not alias b.
func decodeRecord(b []byte) (es.Message, error) {
	d := decoder{buf: b}
	if v := d.byte(); v != recordVersion {
		if d.err != nil {
			return es.Message{}, d.err
		}
		return es.Message{}, fmt.Errorf("%w: unknown version %d", errCorruptRecord, v)
	}

	var m es.Message
	m.GlobalPosition = d.uvarint()
	m.Position = d.uvarint()
	m.Ord = d.uvarint()
	m.Time = time.UnixMilli(d.varint()).UTC()
	m.StreamName = string(d.bytes())
	m.MessageType = string(d.bytes())
	m.ID = string(d.bytes())
	m.Data = cloneBytes(d.bytes())
	if d.byte() == 1 {
		m.Metadata = cloneBytes(d.bytes())
	}
	if d.err != nil {
		return es.Message{}, d.err
	}
	if len(d.buf) != 0 {
		return es.Message{}, fmt.Errorf("%w: %d trailing bytes", errCorruptRecord, len(d.buf))
	}
	return m, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type decoder struct {
	err error
	buf []byte
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = errCorruptRecord
	}
	d.buf = nil
}

func (d *decoder) byte() byte {
	if d.err != nil || len(d.buf) < 1 {
		d.fail()
		return 0
	}
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) bytes() []byte {
	n := d.uvarint()
	if d.err != nil {
		return nil
	}
	if uint64(len(d.buf)) < n {
		d.fail()
		return nil
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v
}
