package util

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/downfa11-org/bufferserver/pkg/types"
)

var ErrShortRecord = errors.New("record too short")

// EncodeResetWindow serializes a reset-window boundary.
func EncodeResetWindow(generation uint32, width int32) []byte {
	data := make([]byte, 9)
	data[0] = byte(types.KindResetWindow)
	binary.BigEndian.PutUint32(data[1:5], generation)
	binary.BigEndian.PutUint32(data[5:9], uint32(width))
	return data
}

func EncodeBeginWindow(window uint64) []byte {
	return encodeWindowMarker(types.KindBeginWindow, window)
}

func EncodeEndWindow(window uint64) []byte {
	return encodeWindowMarker(types.KindEndWindow, window)
}

func encodeWindowMarker(kind types.Kind, window uint64) []byte {
	data := make([]byte, 9)
	data[0] = byte(kind)
	binary.BigEndian.PutUint64(data[1:9], window)
	return data
}

// EncodePartitionedData serializes a payload tagged with a partition key.
func EncodePartitionedData(partition, payload []byte) ([]byte, error) {
	if len(partition) > 0xFFFF {
		return nil, fmt.Errorf("partition key too long: %d bytes", len(partition))
	}
	data := make([]byte, 3+len(partition)+len(payload))
	data[0] = byte(types.KindPartitionedData)
	binary.BigEndian.PutUint16(data[1:3], uint16(len(partition)))
	copy(data[3:3+len(partition)], partition)
	copy(data[3+len(partition):], payload)
	return data, nil
}

func EncodeSimpleData(payload []byte) []byte {
	return encodePayload(types.KindSimpleData, payload)
}

// EncodeControl serializes an opaque control record such as a checkpoint.
func EncodeControl(payload []byte) []byte {
	return encodePayload(types.KindOtherControl, payload)
}

func encodePayload(kind types.Kind, payload []byte) []byte {
	data := make([]byte, 1+len(payload))
	data[0] = byte(kind)
	copy(data[1:], payload)
	return data
}

// DecodeRecord peeks the header of an encoded record and returns its decoded
// form. The returned record aliases data.
func DecodeRecord(data []byte) (types.Record, error) {
	if len(data) < 1 {
		return types.Record{}, ErrShortRecord
	}

	kind := types.Kind(data[0])
	switch kind {
	case types.KindResetWindow:
		if len(data) < 9 {
			return types.Record{}, fmt.Errorf("%s: %w", kind, ErrShortRecord)
		}
		generation := binary.BigEndian.Uint32(data[1:5])
		width := int32(binary.BigEndian.Uint32(data[5:9]))
		return types.NewResetWindow(data, generation, width), nil

	case types.KindBeginWindow, types.KindEndWindow:
		if len(data) < 9 {
			return types.Record{}, fmt.Errorf("%s: %w", kind, ErrShortRecord)
		}
		return types.NewWindowMarker(kind, data, binary.BigEndian.Uint64(data[1:9])), nil

	case types.KindPartitionedData:
		if len(data) < 3 {
			return types.Record{}, fmt.Errorf("%s: %w", kind, ErrShortRecord)
		}
		keyLen := int(binary.BigEndian.Uint16(data[1:3]))
		if 3+keyLen > len(data) {
			return types.Record{}, errors.New("invalid partition key length")
		}
		return types.NewPartitionedData(data, data[3:3+keyLen], data[3+keyLen:]), nil

	case types.KindSimpleData, types.KindOtherControl:
		return types.NewPayloadRecord(kind, data, data[1:]), nil

	default:
		return types.Record{}, fmt.Errorf("unknown record kind %d", uint8(kind))
	}
}
