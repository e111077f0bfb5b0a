package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary framing for the volcengine speech WebSocket API. Each frame is
// a 4-byte header followed by optional event metadata, a payload size,
// and the payload itself.

const protocolVersion = 0b0001

type messageType uint8

const (
	fullClientRequest       messageType = 0b0001
	fullServerResponse      messageType = 0b1001
	audioOnlyServerResponse messageType = 0b1011
	errorMessage            messageType = 0b1111
)

type messageFlags uint8

const (
	noSequenceNumber       messageFlags = 0b0000
	positiveSequenceNumber messageFlags = 0b0001
	lastPacketNoSequence   messageFlags = 0b0010
	negativeSequenceNumber messageFlags = 0b0011
	withEvent              messageFlags = 0b0100
)

type eventType int32

const (
	eventSessionFinished eventType = 152
)

type serializationMethod uint8

const jsonSerialization serializationMethod = 0b0001

type compressionMethod uint8

const (
	noCompression   compressionMethod = 0b0000
	gzipCompression compressionMethod = 0b0001
)

type frame struct {
	Type        messageType
	Flags       messageFlags
	Compression compressionMethod
	Sequence    int32
	Event       eventType
	SessionID   string
	ErrorCode   uint32
	Payload     []byte
}

func (f *frame) isLastPacket() bool {
	switch f.Flags & 0b0011 {
	case lastPacketNoSequence, negativeSequenceNumber:
		return true
	default:
		return false
	}
}

// encodeClientRequest frames a JSON request payload for the server.
func encodeClientRequest(payload []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(payload)+8))
	buf.WriteByte((protocolVersion << 4) | 0b0001)
	buf.WriteByte((uint8(fullClientRequest) << 4) | uint8(noSequenceNumber))
	buf.WriteByte((uint8(jsonSerialization) << 4) | uint8(noCompression))
	buf.WriteByte(0x00)

	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(payload)))
	buf.Write(size)
	buf.Write(payload)
	return buf.Bytes()
}

// decodeServerFrame parses one server frame.
func decodeServerFrame(data []byte) (*frame, error) {
	reader := bytes.NewReader(data)

	header := make([]byte, 4)
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	if version := (header[0] >> 4) & 0x0F; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	f := &frame{
		Type:        messageType((header[1] >> 4) & 0x0F),
		Flags:       messageFlags(header[1] & 0x0F),
		Compression: compressionMethod(header[2] & 0x0F),
	}

	// Skip the extension bytes of larger headers.
	if extra := int(header[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := reader.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	switch f.Flags & 0b0011 {
	case positiveSequenceNumber, negativeSequenceNumber:
		if err := binary.Read(reader, binary.BigEndian, &f.Sequence); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
	}

	if f.Flags&withEvent == withEvent {
		if err := binary.Read(reader, binary.BigEndian, &f.Event); err != nil {
			return nil, fmt.Errorf("read event type: %w", err)
		}
		var size uint32
		if err := binary.Read(reader, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("read session id size: %w", err)
		}
		if size > 0 {
			session := make([]byte, size)
			if _, err := io.ReadFull(reader, session); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			f.SessionID = string(session)
		}
	}

	if f.Type == errorMessage {
		if err := binary.Read(reader, binary.BigEndian, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	var payloadSize uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadSize); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if payloadSize > 0 {
		f.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(reader, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (expected %d bytes): %w", payloadSize, err)
		}
	}

	return f, nil
}

func decompressPayload(payload []byte, method compressionMethod) ([]byte, error) {
	switch method {
	case noCompression:
		return payload, nil
	case gzipCompression:
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("open gzip payload: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}
