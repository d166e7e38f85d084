// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package rpctransport is the wire-facing half of the RPC Dispatcher
// (spec.md §4.7): JSON request/response framing over a stream
// connection and the accept loop that spawns one handler per client.
// Request/Response are adapted from rpc/rpc.go's Method/Args/Id and
// Result/Error/Id shape; the accept-and-spawn loop and the
// encoder/decoder pairing guarded by a sending mutex are adapted from
// server/server.go's Srv.Serve and server/conn.go's SrvConn.
package rpctransport

import (
	"encoding/json"

	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/xom"
)

// Request is one JSON-RPC-shaped call: a method name, its raw
// parameters (decoded per-method once Method is known) and a
// client-assigned id echoed back on the Response.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int             `json:"id"`
}

// Response carries either a Result or a non-empty Errors list, never
// both, matching newResponse's either/or shape in server/conn.go.
type Response struct {
	Result interface{}        `json:"result,omitempty"`
	Errors mgmterror.ErrorList `json:"errors,omitempty"`
	ID     int                `json:"id"`
}

func newResponse(result interface{}, err error, id int) *Response {
	if err != nil {
		return &Response{Errors: mgmterror.AsErrorList(err), ID: id}
	}
	return &Response{Result: result, ID: id}
}

// WireNode is the on-the-wire JSON projection of an xom.Node: schema
// pointers do not survive the wire, they are rebound from the spec the
// receiving side already holds.
type WireNode struct {
	Name     string      `json:"name"`
	Value    string      `json:"value,omitempty"`
	Key      string      `json:"key,omitempty"`
	Children []*WireNode `json:"children,omitempty"`
}

// ToWire projects n and its subtree into the wire representation.
func ToWire(n *xom.Node) *WireNode {
	if n == nil {
		return nil
	}
	w := &WireNode{Name: n.Name, Value: n.Value, Key: n.Key}
	for _, c := range n.Children() {
		w.Children = append(w.Children, ToWire(c))
	}
	return w
}

// ToNode rebuilds an xom.Node subtree from its wire projection. Schema
// binding is left to the caller, which has access to the live
// schema.Spec; rpctransport itself never imports internal/schema.
func (w *WireNode) ToNode() *xom.Node {
	if w == nil {
		return nil
	}
	n := xom.NewNode(w.Name)
	n.Value = w.Value
	n.Key = w.Key
	for _, c := range w.Children {
		n.AddChild(c.ToNode())
	}
	return n
}

// editConfigParams / dbParams / etc. are the per-method Params
// shapes, decoded from Request.Params once the Method switch in
// server.go has identified which RPC is being invoked.
type sessionParams struct {
	SessionID string `json:"session_id"`
	User      string `json:"user,omitempty"`
}

type getConfigParams struct {
	SessionID string `json:"session_id"`
	DB        string `json:"db"`
	XPath     string `json:"xpath,omitempty"`
}

type editConfigParams struct {
	SessionID string             `json:"session_id"`
	DB        string             `json:"db"`
	Operation xom.Operation      `json:"operation"`
	Tree      *WireNode          `json:"tree"`
}

type dbParams struct {
	SessionID string `json:"session_id"`
	DB        string `json:"db"`
}

type copyConfigParams struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
}

type subscribeParams struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"`
	Filter    string `json:"filter,omitempty"`
}

type killSessionParams struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_session_id"`
}
