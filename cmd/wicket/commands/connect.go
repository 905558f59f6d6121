package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"github.com/wicketnetworks/wicket/src/keys"
	"github.com/wicketnetworks/wicket/src/protocols"
	"github.com/wicketnetworks/wicket/src/transport"
)

var (
	gatewayAddrs []string
	uploadFile   string
	downloadFile string
	tunnelSpec   string
)

// dialTimeout bounds the initial connection to the gateway.
const dialTimeout = 30 * time.Second

//NewConnectCmd returns the command that connects to a running gateway
func NewConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <gateway-id> [destination]",
		Short: "Connect to a gateway",
		Long: `connect dials a gateway by its public identity and drives one of its
sub-protocols.

With no mode flag it opens an interactive shell on the gateway, wiring the
local stdin and stdout to the remote shell. --upload sends a local file to
[destination] on the gateway, --download fetches a remote file into
[destination], and --tunnel forwards a local TCP port to a host reachable from
the gateway.

The gateway authenticates this client by its public identity, so the identity
seed in --key must belong to a peer on the gateway's allow-list.`,
		Args:    cobra.RangeArgs(1, 2),
		PreRunE: loadConfig,
		RunE:    connectGateway,
	}
	AddConnectFlags(cmd)
	return cmd
}

//AddConnectFlags adds flags to the connect command
func AddConnectFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("key", _config.Keyfile, "File containing the identity seed")
	cmd.Flags().StringSlice("bootstrap", _config.BootstrapPeers, "Multiaddrs of the overlay bootstrap nodes")
	cmd.Flags().Bool("test-net", _config.TestNet, "Loopback-only transport, no overlay routing")

	cmd.Flags().StringSliceVarP(&gatewayAddrs, "addr", "a", nil, "Dial the gateway at this multiaddr instead of routing through the overlay")
	cmd.Flags().StringVarP(&uploadFile, "upload", "u", "", "Upload this local file to [destination] on the gateway")
	cmd.Flags().StringVarP(&downloadFile, "download", "d", "", "Download this remote file into [destination]")
	cmd.Flags().StringVarP(&tunnelSpec, "tunnel", "t", "", "Forward local-port:host:port through the gateway")
}

func connectGateway(cmd *cobra.Command, args []string) error {
	pid, err := peer.Decode(args[0])
	if err != nil {
		return fmt.Errorf("invalid gateway identity %s: %v", args[0], err)
	}

	identity, err := keys.EnsureIdentity(_config.KeyfilePath())
	if err != nil {
		return err
	}

	logger := _config.Logger()
	logger.WithField("id", identity.PublicString()).Debug("Client identity")

	trans, err := transport.New(
		context.Background(),
		identity.PrivKey,
		transport.Config{
			ListenAddrs:    _config.ListenAddrs,
			BootstrapPeers: _config.BootstrapPeers,
			TestNet:        _config.TestNet,
		},
		nil,
		logger,
	)

	if err != nil {
		return err
	}
	defer trans.Close()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := dialGateway(dialCtx, trans, pid); err != nil {
		return fmt.Errorf("connecting to %s: %v", pid, err)
	}

	ctx := context.Background()

	switch {
	case uploadFile != "":
		if len(args) < 2 {
			return fmt.Errorf("upload needs a destination path on the gateway")
		}
		return runUpload(ctx, trans, pid, uploadFile, args[1])
	case downloadFile != "":
		if len(args) < 2 {
			return fmt.Errorf("download needs a local destination path")
		}
		return runDownload(ctx, trans, pid, downloadFile, args[1])
	case tunnelSpec != "":
		return runTunnel(ctx, trans, pid, tunnelSpec)
	default:
		return runShell(ctx, trans, pid)
	}
}

// dialGateway connects to the gateway through the overlay, or directly when
// --addr was given.
func dialGateway(ctx context.Context, trans *transport.Transport, pid peer.ID) error {
	if len(gatewayAddrs) == 0 {
		return trans.Connect(ctx, pid)
	}

	info := peer.AddrInfo{ID: pid}

	for _, a := range gatewayAddrs {
		maddr, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return err
		}

		transportAddr, p := peer.SplitAddr(maddr)
		if p != "" && p != pid {
			return fmt.Errorf("address %s belongs to %s, not %s", a, p, pid)
		}
		if transportAddr != nil {
			info.Addrs = append(info.Addrs, transportAddr)
		}
	}

	return trans.Host().Connect(ctx, info)
}

func runShell(ctx context.Context, trans *transport.Transport, pid peer.ID) error {
	stream, err := trans.Host().NewStream(ctx, pid, protocols.ShellID)
	if err != nil {
		return err
	}
	defer stream.Close()

	// local keystrokes feed the remote shell until stdin closes
	go func() {
		io.Copy(stream, os.Stdin)
		stream.CloseWrite()
	}()

	if _, err := io.Copy(os.Stdout, stream); err != nil {
		return err
	}

	return nil
}

func runUpload(ctx context.Context, trans *transport.Transport, pid peer.ID, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	stream, err := trans.Host().NewStream(ctx, pid, protocols.UploadID)
	if err != nil {
		return err
	}
	defer stream.Close()

	header := protocols.FileInfo{
		Name: remote,
		Size: info.Size(),
		Mode: uint32(info.Mode().Perm()),
	}

	if err := protocols.WriteFrame(stream, &header); err != nil {
		return err
	}

	var status protocols.TransferStatus

	if err := protocols.ReadFrame(stream, &status); err != nil {
		return err
	}
	if !status.OK {
		return fmt.Errorf("gateway refused upload: %s", status.Error)
	}

	if _, err := io.CopyN(stream, f, info.Size()); err != nil {
		return err
	}

	if err := protocols.ReadFrame(stream, &status); err != nil {
		return err
	}
	if !status.OK {
		return fmt.Errorf("upload failed: %s", status.Error)
	}

	fmt.Printf("Uploaded %s to %s (%d bytes)\n", local, remote, info.Size())

	return nil
}

func runDownload(ctx context.Context, trans *transport.Transport, pid peer.ID, remote, local string) error {
	stream, err := trans.Host().NewStream(ctx, pid, protocols.DownloadID)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := protocols.WriteFrame(stream, &protocols.FileInfo{Name: remote}); err != nil {
		return err
	}

	var status protocols.TransferStatus

	if err := protocols.ReadFrame(stream, &status); err != nil {
		return err
	}
	if !status.OK {
		return fmt.Errorf("gateway refused download: %s", status.Error)
	}
	if status.File == nil {
		return fmt.Errorf("gateway sent no file header")
	}

	mode := os.FileMode(0644)
	if status.File.Mode != 0 {
		mode = os.FileMode(status.File.Mode)
	}

	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.CopyN(f, stream, status.File.Size); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Downloaded %s to %s (%d bytes)\n", remote, local, status.File.Size)

	return nil
}

func runTunnel(ctx context.Context, trans *transport.Transport, pid peer.ID, spec string) error {
	localPort, host, port, err := parseTunnelSpec(spec)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Fprintf(os.Stderr, "Forwarding %s through the gateway to %s\n",
		l.Addr(), net.JoinHostPort(host, strconv.Itoa(port)))

	go acceptLoop(ctx, l, trans, pid, host, port)

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	return nil
}

func acceptLoop(ctx context.Context, l net.Listener, trans *transport.Transport, pid peer.ID, host string, port int) {
	logger := _config.Logger()

	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		go func(conn net.Conn) {
			defer conn.Close()

			stream, err := trans.Host().NewStream(ctx, pid, protocols.TunnelID)
			if err != nil {
				logger.WithError(err).Error("Opening tunnel stream")
				return
			}
			defer stream.Close()

			request := protocols.TunnelRequest{Host: host, Port: port}

			if err := protocols.WriteFrame(stream, &request); err != nil {
				logger.WithError(err).Error("Sending tunnel request")
				return
			}

			var status protocols.TransferStatus

			if err := protocols.ReadFrame(stream, &status); err != nil {
				logger.WithError(err).Error("Reading tunnel status")
				return
			}

			if !status.OK {
				logger.Errorf("Gateway refused tunnel: %s", status.Error)
				return
			}

			protocols.Bridge(stream, conn.(*net.TCPConn))
		}(conn)
	}
}

// parseTunnelSpec splits a local-port:host:port forwarding spec.
func parseTunnelSpec(spec string) (int, string, int, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("tunnel spec should be local-port:host:port, got %s", spec)
	}

	localPort, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, fmt.Errorf("invalid local port %s", parts[0])
	}

	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, "", 0, fmt.Errorf("invalid target port %s", parts[2])
	}

	return localPort, parts[1], port, nil
}
