package kv

import (
	"encoding/binary"
	"errors"
)

// Key spaces. Every key starts with one of these prefixes; strings are
// terminated by a NUL byte and integers are big-endian so that byte order
// equals numeric order.
//
//	S stream 0 position                 -> record
//	G global_position                   -> stream key
//	C category 0 global_position        -> stream key
//	R category 0 correlation 0 gp       -> stream key
//	O ord                               -> global_position
//	I id                                -> global_position
//	K consumer                          -> global_position
//	M name                              -> value
const (
	prefixStream      byte = 'S'
	prefixGlobal      byte = 'G'
	prefixCategory    byte = 'C'
	prefixCorrelation byte = 'R'
	prefixOrd         byte = 'O'
	prefixID          byte = 'I'
	prefixCheckpoint  byte = 'K'
	prefixMeta        byte = 'M'

	separator byte = 0x00
)

var errShortKey = errors.New("kv: key too short")

func appendUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

func encodeUint64(v uint64) []byte {
	return appendUint64(make([]byte, 0, 8), v)
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, errShortKey
	}
	return binary.BigEndian.Uint64(b[len(b)-8:]), nil
}

// streamPrefix is the common prefix of all records of a stream.
func streamPrefix(streamName string) []byte {
	k := make([]byte, 0, len(streamName)+2+8)
	k = append(k, prefixStream)
	k = append(k, streamName...)
	return append(k, separator)
}

func streamKey(streamName string, position uint64) []byte {
	return appendUint64(streamPrefix(streamName), position)
}

func globalKey(globalPosition uint64) []byte {
	return appendUint64([]byte{prefixGlobal}, globalPosition)
}

func categoryPrefix(category string) []byte {
	k := make([]byte, 0, len(category)+2+8)
	k = append(k, prefixCategory)
	k = append(k, category...)
	return append(k, separator)
}

func categoryKey(category string, globalPosition uint64) []byte {
	return appendUint64(categoryPrefix(category), globalPosition)
}

func correlationPrefix(category, correlation string) []byte {
	k := make([]byte, 0, len(category)+len(correlation)+3+8)
	k = append(k, prefixCorrelation)
	k = append(k, category...)
	k = append(k, separator)
	k = append(k, correlation...)
	return append(k, separator)
}

func correlationKey(category, correlation string, globalPosition uint64) []byte {
	return appendUint64(correlationPrefix(category, correlation), globalPosition)
}

func ordKey(ord uint64) []byte {
	return appendUint64([]byte{prefixOrd}, ord)
}

func idKey(id string) []byte {
	return append([]byte{prefixID}, id...)
}

func checkpointKey(name string) []byte {
	return append([]byte{prefixCheckpoint}, name...)
}

func metaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
