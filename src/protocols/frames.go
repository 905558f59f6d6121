package protocols

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

// control frames stay small; anything bigger is a broken peer
const maxFrameSize = 1 << 20

// FileInfo describes one file in a transfer. For an upload it announces the
// incoming file; for a download request only Name is set and the gateway
// fills in the rest.
type FileInfo struct {
	Name string
	Size int64
	Mode uint32
}

// TransferStatus reports whether the gateway accepted a request. File is set
// on an accepted download.
type TransferStatus struct {
	OK    bool
	Error string
	File  *FileInfo
}

// TunnelRequest names the TCP target a tunnel session wants the gateway to
// dial.
type TunnelRequest struct {
	Host string
	Port int
}

// WriteFrame writes a length-prefixed canonical JSON frame. The prefix keeps
// the frame self-delimiting, so raw bytes can follow it on the same channel.
func WriteFrame(w io.Writer, v interface{}) error {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(b, jh).Encode(v); err != nil {
		return err
	}

	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(b.Len()))

	if _, err := w.Write(prefix[:n]); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// ReadFrame reads one frame written by WriteFrame. It never reads past the
// frame's end.
func ReadFrame(r io.Reader, v interface{}) error {
	size, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return err
	}
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return codec.NewDecoder(bytes.NewReader(buf), jh).Decode(v)
}

// byteReader adapts an io.Reader without introducing any buffering.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var p [1]byte
	if _, err := io.ReadFull(b.r, p[:]); err != nil {
		return 0, err
	}
	return p[0], nil
}
