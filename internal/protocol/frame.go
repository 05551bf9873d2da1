package protocol

import (
	"encoding/binary"
	"errors"
)

// FrameMagic is the first byte of every binary frame message
const FrameMagic uint8 = 0x46 // 'F'

// Header: [magic(1)] [seq(4)] [timestamp(8)] [idLen(2)] = 15 bytes
const FrameHeaderSize = 15

// maxDeviceIDLen bounds the id field so a corrupt header cannot claim the
// whole message.
const maxDeviceIDLen = 256

// Frame is one encoded screen image sent as a binary websocket message.
//
// Wire format:
//
//	magic(uint8) + seq(uint32) + timestamp(int64, unix ms) +
//	idLen(uint16) + deviceID(idLen bytes) + payload(rest)
type Frame struct {
	Seq       uint32
	Timestamp int64
	DeviceID  string
	Payload   []byte
}

// EncodeFrame serializes a Frame to wire format.
func EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.DeviceID) > maxDeviceIDLen {
		return nil, errors.New("frame: device id too long")
	}
	buf := make([]byte, FrameHeaderSize+len(f.DeviceID)+len(f.Payload))
	buf[0] = FrameMagic
	binary.BigEndian.PutUint32(buf[1:5], f.Seq)
	binary.BigEndian.PutUint64(buf[5:13], uint64(f.Timestamp))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(f.DeviceID)))
	n := copy(buf[FrameHeaderSize:], f.DeviceID)
	copy(buf[FrameHeaderSize+n:], f.Payload)
	return buf, nil
}

// DecodeFrame deserializes wire bytes into a Frame. The payload aliases data.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, errors.New("frame: message too short")
	}
	if data[0] != FrameMagic {
		return nil, errors.New("frame: bad magic")
	}

	idLen := int(binary.BigEndian.Uint16(data[13:15]))
	if idLen > maxDeviceIDLen || len(data) < FrameHeaderSize+idLen {
		return nil, errors.New("frame: device id overruns message")
	}

	return &Frame{
		Seq:       binary.BigEndian.Uint32(data[1:5]),
		Timestamp: int64(binary.BigEndian.Uint64(data[5:13])),
		DeviceID:  string(data[FrameHeaderSize : FrameHeaderSize+idLen]),
		Payload:   data[FrameHeaderSize+idLen:],
	}, nil
}
