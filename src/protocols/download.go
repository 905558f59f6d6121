package protocols

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DownloadHandler serves one file to the peer: the peer names a path, the
// gateway answers with a TransferStatus carrying the file's size and mode,
// then streams exactly that many bytes.
type DownloadHandler struct {
	session Session
}

// NewDownloadHandler ...
func NewDownloadHandler(s Session) Handler {
	return &DownloadHandler{session: s}
}

// Channel implements the Handler interface.
func (h *DownloadHandler) Channel() Channel {
	return h.session.Channel
}

// Open implements the Handler interface.
func (h *DownloadHandler) Open() error {
	ch := h.session.Channel
	defer ch.Close()

	req := FileInfo{}
	if err := ReadFrame(ch, &req); err != nil {
		return err
	}

	logger := h.session.Logger.WithField("file", req.Name)
	logger.Debug("Download requested")

	f, err := os.Open(req.Name)
	if err != nil {
		logger.WithField("error", err).Warn("Download refused")
		WriteFrame(ch, TransferStatus{Error: err.Error()})
		return nil
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		WriteFrame(ch, TransferStatus{Error: err.Error()})
		return err
	}
	if st.IsDir() {
		WriteFrame(ch, TransferStatus{Error: fmt.Sprintf("%s is a directory", req.Name)})
		return nil
	}

	info := &FileInfo{
		Name: filepath.Base(req.Name),
		Size: st.Size(),
		Mode: uint32(st.Mode().Perm()),
	}

	if err := WriteFrame(ch, TransferStatus{OK: true, File: info}); err != nil {
		return err
	}

	if _, err := io.CopyN(ch, f, info.Size); err != nil {
		return err
	}

	logger.WithField("size", info.Size).Debug("Download complete")

	return nil
}
