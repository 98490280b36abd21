package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
)

// Stream framing per the Meshtastic client API: each protobuf is preceded
// by two magic bytes and a big-endian 16-bit length. Bytes outside a frame
// are debug console output from the device and are skipped.
const (
	start1       = 0x94
	start2       = 0xc3
	maxFrameSize = 512
)

// writeFrame marshals msg and writes one framed protobuf to w.
func writeFrame(w io.Writer, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds protocol maximum %d", len(payload), maxFrameSize)
	}

	header := []byte{start1, start2, 0, 0}
	binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// readFrame scans r for the next frame and returns its payload bytes.
// Implausible lengths indicate loss of sync; the frame is abandoned and the
// scan resumes at the next magic byte.
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start1 {
			continue
		}

		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start2 {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		length := int(binary.BigEndian.Uint16(lenBuf[:]))
		if length == 0 || length > maxFrameSize {
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
