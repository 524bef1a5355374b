package api

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

// Request contains route parameters and the optional payload from the command.
type Request struct {
	Ctx     context.Context
	Params  map[string]string
	Payload string
}

// Response holds the JSON string to return to the client.
type Response struct {
	JSON string
}

// HandlerFunc processes a request and populates the response. The logger is
// connection-scoped, enriched with remote address metadata by the server.
type HandlerFunc func(req *Request, res *Response, logger *slog.Logger) error

// StreamHandlerFunc handles long-lived connections such as the event stream.
// The handler takes ownership of the connection and closes it when done; a
// non-nil error is logged and written back by the server.
type StreamHandlerFunc func(conn net.Conn, params map[string]string, logger *slog.Logger) error

// segment is one compiled path element: either a literal to match or a
// {placeholder} capturing the incoming element under its name.
type segment struct {
	literal string
	param   string
}

type pattern []segment

func compilePattern(p string) pattern {
	parts := strings.Split(p, "/")
	segs := make(pattern, 0, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			segs = append(segs, segment{param: part[1 : len(part)-1]})
		} else {
			segs = append(segs, segment{literal: strings.ToLower(part)})
		}
	}
	return segs
}

func (p pattern) match(parts []string) (map[string]string, bool) {
	if len(p) != len(parts) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range p {
		if seg.param != "" {
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

type route struct {
	pattern pattern
	handler HandlerFunc
}

type streamRoute struct {
	pattern pattern
	handler StreamHandlerFunc
}

// Router matches request paths against patterns like
// "controller/{serial}/battery". Matching is case-insensitive; placeholder
// values are captured as sent.
type Router struct {
	routes       []route
	streamRoutes []streamRoute
}

func NewRouter() *Router { return &Router{} }

// Register adds a handler for a path pattern.
func (r *Router) Register(p string, h HandlerFunc) {
	r.routes = append(r.routes, route{pattern: compilePattern(p), handler: h})
}

// RegisterStream adds a stream handler for a path pattern.
func (r *Router) RegisterStream(p string, h StreamHandlerFunc) {
	r.streamRoutes = append(r.streamRoutes, streamRoute{pattern: compilePattern(p), handler: h})
}

// Match returns the handler and captured params for path, or nil when no
// pattern matches.
func (r *Router) Match(path string) (HandlerFunc, map[string]string) {
	parts := strings.Split(strings.ToLower(path), "/")
	for _, rt := range r.routes {
		if params, ok := rt.pattern.match(parts); ok {
			return rt.handler, params
		}
	}
	return nil, nil
}

// MatchStream is Match for stream routes.
func (r *Router) MatchStream(path string) (StreamHandlerFunc, map[string]string) {
	parts := strings.Split(strings.ToLower(path), "/")
	for _, rt := range r.streamRoutes {
		if params, ok := rt.pattern.match(parts); ok {
			return rt.handler, params
		}
	}
	return nil, nil
}
