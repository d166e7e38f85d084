// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpctransport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/rpcdispatch"
	"github.com/danos/configd/internal/xom"
)

// Conn is one accepted client connection: a JSON encoder/decoder pair
// over the stream, with writes serialized by sending, exactly
// server/conn.go's SrvConn.
type Conn struct {
	nc      net.Conn
	srv     *Server
	enc     *json.Encoder
	dec     *json.Decoder
	sending sync.Mutex
}

func (c *Conn) sendResponse(resp *Response) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	return c.enc.Encode(resp)
}

func (c *Conn) readRequest() (*Request, error) {
	req := new(Request)
	if err := c.dec.Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Server owns the listener and dispatches every accepted connection's
// requests to the RPC Dispatcher, matching server/server.go's Srv.Serve
// accept-and-spawn loop.
type Server struct {
	ln   net.Listener
	disp *rpcdispatch.Dispatcher
	gate *logging.Gate
}

func NewServer(ln net.Listener, disp *rpcdispatch.Dispatcher, gate *logging.Gate) *Server {
	return &Server{ln: ln, disp: disp, gate: gate}
}

// Serve accepts connections until the listener is closed, spawning one
// handler goroutine per connection.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.gate.Log(logging.LevelError, logging.TypeNone, "accept failed",
				map[string]interface{}{"error": err.Error()})
			continue
		}
		conn := &Conn{nc: nc, srv: s, enc: json.NewEncoder(nc), dec: json.NewDecoder(nc)}
		go conn.handle()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (c *Conn) handle() {
	defer c.nc.Close()
	for {
		req, err := c.readRequest()
		if err != nil {
			return
		}
		resp := c.dispatch(req)
		if err := c.sendResponse(resp); err != nil {
			return
		}
	}
}

func (c *Conn) dispatch(req *Request) *Response {
	ctx := context.Background()
	d := c.srv.disp

	switch req.Method {
	case "create-session":
		var p sessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		sess := d.CreateSession(p.SessionID, p.User)
		return newResponse(map[string]string{"session_id": sess.ID}, nil, req.ID)

	case "get-config":
		var p getConfigParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		tree, err := d.GetConfig(ctx, p.SessionID, p.DB, p.XPath)
		if err != nil {
			return newResponse(nil, err, req.ID)
		}
		return newResponse(ToWire(tree), nil, req.ID)

	case "edit-config":
		var p editConfigParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		op := p.Operation
		if op == "" {
			op = xom.OpMerge
		}
		err := d.EditConfig(ctx, p.SessionID, p.DB, op, p.Tree.ToNode())
		return newResponse(nil, err, req.ID)

	case "copy-config":
		var p copyConfigParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.CopyConfig(ctx, p.SessionID, p.Source, p.Target)
		return newResponse(nil, err, req.ID)

	case "delete-config":
		var p dbParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.DeleteConfig(ctx, p.SessionID, p.DB)
		return newResponse(nil, err, req.ID)

	case "lock":
		var p dbParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.Lock(ctx, p.SessionID, p.DB)
		return newResponse(nil, err, req.ID)

	case "unlock":
		var p dbParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.Unlock(ctx, p.SessionID, p.DB)
		return newResponse(nil, err, req.ID)

	case "validate":
		var p dbParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		if errs := d.Validate(ctx, p.SessionID, p.DB); len(errs) > 0 {
			return newResponse(nil, errs, req.ID)
		}
		return newResponse(nil, nil, req.ID)

	case "commit":
		var p sessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		r := d.Commit(ctx, p.SessionID)
		if !r.OK() {
			return newResponse(nil, r.Errors, req.ID)
		}
		return newResponse(map[string]string{"outcome": string(r.Outcome)}, nil, req.ID)

	case "discard-changes":
		var p sessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.DiscardChanges(ctx, p.SessionID)
		return newResponse(nil, err, req.ID)

	case "close-session":
		var p sessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.CloseSession(ctx, p.SessionID)
		return newResponse(nil, err, req.ID)

	case "create-subscription":
		var p subscribeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		sub, err := d.CreateSubscription(ctx, p.SessionID, p.Stream, p.Filter, func(cancel <-chan struct{}) {
			<-cancel
		})
		if err != nil {
			return newResponse(nil, err, req.ID)
		}
		return newResponse(map[string]string{"subscription_id": sub.ID}, nil, req.ID)

	case "kill-session":
		var p killSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return newResponse(nil, mgmterror.NewParseError(err.Error()), req.ID)
		}
		err := d.KillSession(ctx, p.SessionID, p.TargetID)
		return newResponse(nil, err, req.ID)

	default:
		return newResponse(nil, mgmterror.NewNotSupportedError("unknown method "+req.Method), req.ID)
	}
}
