package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/kalamay/crux/internal/config"
	"github.com/kalamay/crux/internal/hub"
	"github.com/kalamay/crux/internal/httpparse"
	"github.com/kalamay/crux/internal/netdial"
	"github.com/kalamay/crux/internal/task"
)

var serverCmd = &cobra.Command{
	Use:   "server [addr]",
	Short: "spawn a hub that accepts connections and echoes parsed HTTP requests",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServer,
}

// parseBody gates whether serveConn echoes the request body back in
// its response or just drains and discards it; set from the optional
// config file's parse_body field.
var parseBody bool

func runServer(cmd *cobra.Command, args []string) error {
	hubCfg := hub.DefaultConfig()
	if cfgFile != "" {
		fc, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("server: loading config: %w", err)
		}
		if fc.LogLevel != "" {
			logLevel = fc.LogLevel
		}
		if fc.LogJSON {
			logJSON = true
		}
		if fc.Hub.MaxReady > 0 {
			hubCfg.MaxReady = fc.Hub.MaxReady
		}
		if fc.Hub.PollBatch > 0 {
			hubCfg.PollBatch = fc.Hub.PollBatch
		}
		parseBody = fc.ParseBody
	}
	log := newLogger()

	addr := ":8080"
	if len(args) == 1 {
		addr = args[0]
	}
	network, address, err := netdial.Parse(addr)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if network == "fd" {
		return fmt.Errorf("server: inherited-fd listeners are not supported by this demo")
	}

	lfd, err := listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	defer unix.Close(lfd)

	h, err := hub.New(hubCfg, task.DefaultManagerConfig())
	if err != nil {
		return fmt.Errorf("server: new hub: %w", err)
	}
	defer h.Free()

	log.WithHub("cruxd").Infof("listening", "network", network, "address", address)

	h.Spawn(func(h *hub.Hub, self *task.Task, data any) any {
		for {
			cfd, _, err := h.Accept(self, int32(lfd), -1)
			if err != nil {
				log.WithError(err).Error("accept failed")
				return nil
			}
			h.Spawn(serveConn, cfd, "conn")
		}
	}, nil, "listener")

	h.Run()
	return nil
}

// listen binds and listens on network/address using a raw, O_NONBLOCK
// file descriptor, matching the hub's non-blocking-fd contract; it
// deliberately bypasses net.Listen so the resulting fd can be handed
// straight to hub.Accept.
func listen(network, address string) (int, error) {
	switch network {
	case "unix":
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return -1, err
		}
		unix.Unlink(address)
		if err := unix.Bind(fd, &unix.SockaddrUnix{Name: address}); err != nil {
			unix.Close(fd)
			return -1, err
		}
		if err := unix.Listen(fd, 128); err != nil {
			unix.Close(fd)
			return -1, err
		}
		return fd, nil
	default:
		return listenTCP(address)
	}
}

// serveConn is a hub.Fn that reads one HTTP request from fd, echoes a
// fixed 200 response summarizing the request line, and closes the
// connection, exercising internal/httpparse end to end.
func serveConn(h *hub.Hub, self *task.Task, data any) any {
	fd := data.(int)
	defer unix.Close(fd)

	headers := httpparse.NewHeaderMap()
	p, err := httpparse.NewRequest(httpparse.DefaultLimits(), headers)
	if err != nil {
		return nil
	}
	defer p.Close()

	buf := make([]byte, 4096)
	var method, target string
	var reqBody []byte

	for {
		ev, ok, err := p.Next()
		if err != nil {
			writeStatus(h, self, fd, 400, "Bad Request")
			return nil
		}
		if !ok {
			n, err := h.Read(self, int32(fd), buf, -1)
			if err != nil || n == 0 {
				return nil
			}
			if err := p.Feed(buf[:n]); err != nil {
				return nil
			}
			continue
		}

		switch ev.Kind {
		case httpparse.EventRequest:
			w := p.Window()
			method = string(w[ev.Off : ev.Off+ev.Len])
			target = string(w[ev.Off2 : ev.Off2+ev.Len2])
		case httpparse.EventBodyStart, httpparse.EventBodyChunk:
			// a chunked body surfaces one EventBodyChunk per chunk
			// after the initial EventBodyStart; both drain the same
			// way, via PendingBody/ConsumeBody, before Next is called
			// again.
			for p.PendingBody() > 0 {
				avail := int64(len(p.Window()))
				if avail == 0 {
					n, err := h.Read(self, int32(fd), buf, -1)
					if err != nil || n == 0 {
						return nil
					}
					if err := p.Feed(buf[:n]); err != nil {
						return nil
					}
					continue
				}
				if avail > p.PendingBody() {
					avail = p.PendingBody()
				}
				if parseBody {
					reqBody = append(reqBody, p.Window()[:avail]...)
				}
				if err := p.ConsumeBody(avail); err != nil {
					return nil
				}
			}
		case httpparse.EventTrailerEnd:
			body := fmt.Sprintf("%s %s\n", method, target)
			if parseBody && len(reqBody) > 0 {
				body += string(reqBody) + "\n"
			}
			writeResponse(h, self, fd, 200, "OK", body)
			return nil
		}
	}
}

func writeStatus(h *hub.Hub, self *task.Task, fd int, code int, reason string) {
	writeResponse(h, self, fd, code, reason, "")
}

func writeResponse(h *hub.Hub, self *task.Task, fd int, code int, reason, body string) {
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body)
	h.Write(self, int32(fd), []byte(resp), -1)
}
