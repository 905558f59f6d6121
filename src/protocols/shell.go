package protocols

import (
	"io"
	"os"
	"os/exec"
)

// ShellHandler runs the gateway user's shell with all three standard streams
// wired to the channel. There is no PTY; the shell runs non-interactive, the
// way it would under a pipe.
type ShellHandler struct {
	session Session
	path    string
}

// NewShellHandler resolves the shell binary up front. If neither $SHELL nor
// /bin/sh resolves, the handler reports no channel and the session is never
// opened.
func NewShellHandler(s Session) Handler {
	path, err := shellPath()
	if err != nil {
		s.Logger.WithField("error", err).Warn("No shell available")
		return &ShellHandler{session: s}
	}
	return &ShellHandler{session: s, path: path}
}

func shellPath() (string, error) {
	if sh := os.Getenv("SHELL"); sh != "" {
		if path, err := exec.LookPath(sh); err == nil {
			return path, nil
		}
	}
	return exec.LookPath("/bin/sh")
}

// Channel implements the Handler interface.
func (h *ShellHandler) Channel() Channel {
	if h.path == "" {
		return nil
	}
	return h.session.Channel
}

// Open implements the Handler interface. It blocks until the shell exits,
// which happens at the latest when the peer closes its write side and the
// shell reads EOF. The channel is closed as soon as the shell is gone, so the
// peer is not left holding a dead session.
func (h *ShellHandler) Open() error {
	ch := h.session.Channel
	defer ch.Close()

	cmd := exec.Command(h.path)
	cmd.Stdout = ch
	cmd.Stderr = ch

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	// stdin is fed on the side; closing the channel unblocks the copy when
	// the shell exits first
	go func() {
		io.Copy(stdin, ch)
		stdin.Close()
	}()

	h.session.Logger.WithField("shell", h.path).Debug("Shell session started")

	err = cmd.Wait()
	if err != nil {
		// a non-zero exit is the shell's business, not a transport problem
		if _, ok := err.(*exec.ExitError); ok {
			h.session.Logger.WithField("exit", err.Error()).Debug("Shell session ended")
			return nil
		}
		return err
	}

	h.session.Logger.Debug("Shell session ended")

	return nil
}
