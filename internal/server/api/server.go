package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api/auth"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
)

// Server implements a small TCP API for controlling attached controllers.
type Server struct {
	core   *daemon.Core
	addr   string
	ln     net.Listener
	logger *slog.Logger
	router *Router
	config ServerConfig
	key    []byte
}

// New creates a new API server bound to a daemon core.
func New(core *daemon.Core, addr string, config ServerConfig, logger *slog.Logger) (*Server, error) {
	a := &Server{
		core:   core,
		addr:   addr,
		logger: logger,
		config: config,
	}
	if config.Password != "" {
		key, err := auth.DeriveKey(config.Password)
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		a.key = key
	}
	a.router = NewRouter()
	return a, nil
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// Core returns the underlying daemon core.
func (a *Server) Core() *daemon.Core { return a.core }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.logger.Info("API listening", "addr", a.addr)
	go a.serve()
	return nil
}

// Addr returns the bound listen address, useful when the configured port is 0.
func (a *Server) Addr() string {
	if a.ln == nil {
		return a.addr
	}
	return a.ln.Addr().String()
}

// Close stops the API server.
func (a *Server) Close() {
	if a.ln != nil {
		_ = a.ln.Close()
	}
}

func (a *Server) serve() {
	for {
		c, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		go a.handleConn(c)
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	apiErr := WrapError(err)
	problemJSON, _ := json.Marshal(apiErr)
	fmt.Fprintf(w, "%s\n", string(problemJSON))
}

func (a *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

// authenticate runs the optional handshake. With a key configured the client
// must handshake and all further traffic runs over the encrypted conn; without
// one a handshake attempt is refused rather than silently ignored.
func (a *Server) authenticate(conn net.Conn, r *bufio.Reader, logger *slog.Logger) (net.Conn, *bufio.Reader, error) {
	isHandshake, err := auth.IsHandshake(r)
	if err != nil {
		return nil, nil, err
	}

	if a.key == nil {
		if isHandshake {
			return nil, nil, apierror.ErrUnauthorized("authentication is not enabled on this server")
		}
		return conn, r, nil
	}

	if !isHandshake {
		return nil, nil, apierror.ErrUnauthorized("authentication required")
	}

	sessionKey, err := auth.ServerHandshake(r, conn, a.key)
	if err != nil {
		return nil, nil, err
	}
	sc, err := auth.WrapConn(conn, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("api connection authenticated")
	return sc, bufio.NewReader(sc), nil
}

func (a *Server) handleConn(rawConn net.Conn) {
	defer rawConn.Close()

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := a.logger.With("remote", rawConn.RemoteAddr().String())

	conn, r, err := a.authenticate(rawConn, bufio.NewReader(rawConn), connLogger)
	if err != nil {
		connLogger.Error("api auth failed", "error", err)
		a.writeError(rawConn, err)
		return
	}
	w := conn

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	// Remove null terminator
	reqData = strings.TrimSuffix(reqData, "\x00")

	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(w, ErrBadRequest("empty request"))
		return
	}

	// Split on first whitespace character using regex \s
	wsRegex := regexp.MustCompile(`\s`)
	loc := wsRegex.FindStringIndex(reqData)

	var path, payload string
	if loc != nil {
		path = reqData[:loc[0]]
		payload = reqData[loc[1]:]
	} else {
		path = reqData
		payload = ""
	}

	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(w, ErrBadRequest("empty path"))
		return
	}

	path = strings.ToLower(path)
	connLogger.Info("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(w, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(w, res.JSON)
		return
	}

	if sh, params := a.router.MatchStream(path); sh != nil {
		connLogger.Info("api stream begin", "path", path)
		// Stream handler takes ownership of connection
		if err := sh(conn, params, connLogger); err != nil {
			connLogger.Error("api stream handler error", "path", path, "error", err)
			a.writeError(w, err)
		}
		connLogger.Info("api stream end", "path", path)
		return
	}

	connLogger.Error("api unknown path", "path", path)
	a.writeError(w, ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}
