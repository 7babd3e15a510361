package bedrock

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Bedrock responds in the AWS event-stream binary framing:
// prelude (total length, headers length, prelude CRC), headers, JSON payload,
// message CRC. CRCs are read and skipped, not validated.

const (
	minFrameSize = 16
	maxFrameSize = 16 * 1024 * 1024
)

// frame is one decoded event-stream message.
type frame struct {
	EventType     string
	ExceptionType string
	MessageType   string
	Payload       []byte
}

// readFrame decodes the next frame. A nil frame with nil error is the normal
// end of stream.
func readFrame(reader *bufio.Reader) (*frame, error) {
	prelude := make([]byte, 12)
	if _, err := io.ReadFull(reader, prelude); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("bedrock: read frame prelude: %w", err)
	}

	totalLength := binary.BigEndian.Uint32(prelude[0:4])
	headersLength := binary.BigEndian.Uint32(prelude[4:8])
	if totalLength < minFrameSize {
		return nil, fmt.Errorf("bedrock: frame length %d below minimum %d", totalLength, minFrameSize)
	}
	if totalLength > maxFrameSize {
		return nil, fmt.Errorf("bedrock: frame length %d exceeds maximum %d", totalLength, maxFrameSize)
	}
	if headersLength > totalLength-16 {
		return nil, fmt.Errorf("bedrock: headers length %d exceeds frame bounds (total %d)", headersLength, totalLength)
	}

	remaining := make([]byte, totalLength-12)
	if _, err := io.ReadFull(reader, remaining); err != nil {
		return nil, fmt.Errorf("bedrock: read frame body: %w", err)
	}

	f := &frame{}
	if headersLength > 0 {
		parseHeaders(remaining[:headersLength], f)
	}

	payloadStart := headersLength
	payloadEnd := uint32(len(remaining)) - 4 // trailing message CRC
	if payloadStart < payloadEnd {
		f.Payload = remaining[payloadStart:payloadEnd]
	}
	return f, nil
}

// parseHeaders walks the header entries looking for the routing headers.
// Header entry layout: name length (1), name, value type (1), value.
func parseHeaders(headers []byte, f *frame) {
	offset := 0
	for offset < len(headers) {
		nameLen := int(headers[offset])
		offset++
		if offset+nameLen > len(headers) {
			return
		}
		name := string(headers[offset : offset+nameLen])
		offset += nameLen

		if offset >= len(headers) {
			return
		}
		valueType := headers[offset]
		offset++

		if valueType == 7 { // string
			if offset+2 > len(headers) {
				return
			}
			valueLen := int(binary.BigEndian.Uint16(headers[offset : offset+2]))
			offset += 2
			if offset+valueLen > len(headers) {
				return
			}
			value := string(headers[offset : offset+valueLen])
			offset += valueLen
			switch name {
			case ":event-type":
				f.EventType = value
			case ":exception-type":
				f.ExceptionType = value
			case ":message-type":
				f.MessageType = value
			}
			continue
		}

		next, ok := skipHeaderValue(headers, offset, valueType)
		if !ok {
			return
		}
		offset = next
	}
}

func skipHeaderValue(headers []byte, offset int, valueType byte) (int, bool) {
	var size int
	switch valueType {
	case 0, 1: // bool true / bool false
		return offset, true
	case 2:
		size = 1
	case 3:
		size = 2
	case 4:
		size = 4
	case 5, 8: // long, timestamp
		size = 8
	case 6: // byte array: 2-byte length prefix
		if offset+2 > len(headers) {
			return offset, false
		}
		size = 2 + int(binary.BigEndian.Uint16(headers[offset:offset+2]))
	case 9: // uuid
		size = 16
	default:
		return offset, false
	}
	if offset+size > len(headers) {
		return offset, false
	}
	return offset + size, true
}
