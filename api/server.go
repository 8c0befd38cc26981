package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tiiuae/vhotplug/config"
	"github.com/tiiuae/vhotplug/orchestrator"
	"github.com/tiiuae/vhotplug/vhperr"
)

const writeTimeout = 2 * time.Second

// Server listens on every transport enabled in config.ApiConfig and
// dispatches each connection's newline-JSON requests to orch.
type Server struct {
	cfg  config.ApiConfig
	orch *orchestrator.Orchestrator
	log  *logrus.Entry
}

func New(cfg config.ApiConfig, orch *orchestrator.Orchestrator) *Server {
	return &Server{cfg: cfg, orch: orch, log: logrus.WithField("component", "api")}
}

// Run starts every configured transport's accept loop and blocks until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enable {
		<-ctx.Done()
		return nil
	}

	var eg errgroup.Group

	for _, transport := range s.cfg.Transports {
		l, err := s.listen(transport)
		if err != nil {
			return fmt.Errorf("api: listen %s: %w", transport, err)
		}

		eg.Go(func() error {
			s.acceptLoop(ctx, l, transport)
			return nil
		})
	}

	<-ctx.Done()

	return eg.Wait()
}

func (s *Server) listen(transport string) (net.Listener, error) {
	switch transport {
	case "tcp":
		return net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	case "unix":
		_ = os.Remove(s.cfg.UnixSocket)
		return net.Listen("unix", s.cfg.UnixSocket)
	case "vsock":
		return vsock.ListenContextID(vsock.CIDAny, uint32(s.cfg.Port), nil)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener, transport string) {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.log.WithError(err).WithField("transport", transport).Warn("accept failed")
			return
		}

		if transport == "vsock" && !s.vsockAllowed(conn) {
			_ = conn.Close()
			continue
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) vsockAllowed(conn net.Conn) bool {
	if len(s.cfg.AllowedCids) == 0 {
		return true
	}

	addr, ok := conn.RemoteAddr().(*vsock.Addr)
	if !ok {
		return false
	}

	for _, cid := range s.cfg.AllowedCids {
		if cid == addr.ContextID {
			return true
		}
	}

	return false
}

type connHandler struct {
	conn net.Conn
	mu   sync.Mutex
}

func (h *connHandler) writeJSON(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_ = h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	_, err = h.conn.Write(append(b, '\n'))

	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	h := &connHandler{conn: conn}

	var (
		subID        string
		subEvents    <-chan orchestrator.Event
		subClosed    <-chan struct{}
		notifyDoneCh chan struct{}
	)

	defer func() {
		if subID != "" {
			s.orch.Unsubscribe(context.Background(), subID)
		}
	}()

	readerDone := make(chan struct{})

	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		var req requestEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = h.writeJSON(failed("invalid json"))
			continue
		}

		switch req.Action {
		case "enable_notifications":
			if subID == "" {
				id, events, closed, err := s.orch.Subscribe(ctx)
				if err != nil {
					_ = h.writeJSON(failed(errString(err)))
					continue
				}

				subID, subEvents, subClosed = id, events, closed
				notifyDoneCh = make(chan struct{})

				go s.notifyLoop(h, subEvents, subClosed, readerDone, notifyDoneCh)
			}

			_ = h.writeJSON(ok())

		case "usb_list":
			s.handleUsbList(ctx, h)

		case "usb_attach":
			s.handleUsbAttach(ctx, h, req)

		case "usb_detach":
			s.handleUsbDetach(ctx, h, req)

		case "pci_list":
			s.handlePciList(ctx, h)

		case "pci_attach":
			s.handlePciAttach(ctx, h, req)

		case "pci_detach":
			s.handlePciDetach(ctx, h, req)

		default:
			_ = h.writeJSON(failed("unknown action"))
		}
	}

	close(readerDone)

	if notifyDoneCh != nil {
		<-notifyDoneCh
	}
}

// notifyLoop fans Orchestrator events out to this connection until the
// subscriber is dropped for backpressure or the connection's reader
// exits. A blocked write past writeTimeout closes the connection (§5:
// "a blocked client is disconnected").
func (s *Server) notifyLoop(h *connHandler, events <-chan orchestrator.Event, closed <-chan struct{}, readerDone <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-readerDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if err := h.writeJSON(toEventJSON(ev)); err != nil {
				_ = h.conn.Close()
				return
			}
		case <-closed:
			_ = h.conn.Close()
			return
		}
	}
}

func toEventJSON(ev orchestrator.Event) eventEnvelope {
	return eventEnvelope{
		Event:      string(ev.Kind),
		DeviceNode: ev.DeviceNode,
		Address:    ev.PciAddress,
		Vm:         ev.Vm,
		AllowedVms: ev.AllowedVms,
	}
}

func errString(err error) string {
	if code := vhperr.CodeOf(err); code != "" {
		return string(code)
	}

	return err.Error()
}
