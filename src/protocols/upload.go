package protocols

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// UploadHandler receives one file from the peer: a FileInfo frame announcing
// path, size and mode, then exactly Size raw bytes. Each step is acknowledged
// with a TransferStatus so the peer learns about local failures.
type UploadHandler struct {
	session Session
}

// NewUploadHandler ...
func NewUploadHandler(s Session) Handler {
	return &UploadHandler{session: s}
}

// Channel implements the Handler interface.
func (h *UploadHandler) Channel() Channel {
	return h.session.Channel
}

// Open implements the Handler interface.
func (h *UploadHandler) Open() error {
	ch := h.session.Channel
	defer ch.Close()

	info := FileInfo{}
	if err := ReadFrame(ch, &info); err != nil {
		return err
	}

	logger := h.session.Logger.WithFields(logrus.Fields{
		"file": info.Name,
		"size": info.Size,
	})
	logger.Debug("Upload requested")

	mode := os.FileMode(info.Mode)
	if mode == 0 {
		mode = 0644
	}

	f, err := os.OpenFile(info.Name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		logger.WithField("error", err).Warn("Upload refused")
		WriteFrame(ch, TransferStatus{Error: err.Error()})
		return nil
	}

	if err := WriteFrame(ch, TransferStatus{OK: true}); err != nil {
		f.Close()
		return err
	}

	if _, err := io.CopyN(f, ch, info.Size); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		WriteFrame(ch, TransferStatus{Error: err.Error()})
		return err
	}

	logger.Debug("Upload complete")

	return WriteFrame(ch, TransferStatus{OK: true})
}
