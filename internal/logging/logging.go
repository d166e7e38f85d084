// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package logging keeps the teacher's two-axis (level x type) debug gate
// -- see common/configd_log.go in the retrieved danos-configd sources --
// but routes actual output through zerolog so every line carries
// structured fields instead of a formatted string.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelDebug
	levelLast
)

func MapLevelNameToLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "error":
		return LevelError, nil
	case "none":
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("log level %q not recognised, use <none|error|debug>", level)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelError:
		return "error"
	default:
		return "none"
	}
}

type Type int

const (
	TypeNone Type = iota
	TypeCommit
	TypeStartup
	TypeTxn
	typeLast
)

func MapTypeName(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "commit":
		return TypeCommit, nil
	case "startup":
		return TypeStartup, nil
	case "txn":
		return TypeTxn, nil
	}
	return TypeNone, fmt.Errorf("log type %q not recognised, use <commit|startup|txn>", name)
}

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeStartup:
		return "startup"
	case TypeTxn:
		return "txn"
	default:
		return "none"
	}
}

// Gate mirrors cfgDebugSettings in the teacher: a per-type current level,
// mutable at runtime (equivalent of SetConfigDebug), consulted before any
// expensive log-line construction happens.
type Gate struct {
	mu       sync.RWMutex
	settings [typeLast]Level
	logger   zerolog.Logger
}

func NewGate(w io.Writer) *Gate {
	return &Gate{
		settings: [typeLast]Level{TypeNone: LevelNone, TypeCommit: LevelError, TypeStartup: LevelError, TypeTxn: LevelError},
		logger:   zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (g *Gate) IsEnabledAt(level Level, typ Type) bool {
	if typ >= typeLast || level >= levelLast {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings[typ] >= level
}

// Set updates the live level for a given log type, the runtime
// equivalent of the teacher's SetConfigDebug.
func (g *Gate) Set(typ Type, level Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings[typ] = level
}

func (g *Gate) Status() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, typeLast)
	for t := TypeCommit; t < typeLast; t++ {
		out[t.String()] = g.settings[t].String()
	}
	return out
}

// Event returns a zerolog event gated by typ/level, or a disabled event
// (cheap, discards .Msg()) when that type/level is not enabled -- this
// preserves the teacher's "only pay for logging when enabled" behaviour.
func (g *Gate) Event(level Level, typ Type) *zerolog.Event {
	if !g.IsEnabledAt(level, typ) {
		return nil
	}
	switch level {
	case LevelDebug:
		return g.logger.Debug()
	default:
		return g.logger.Error()
	}
}

// Log is a convenience wrapper matching the teacher's LogCommitMsg: a
// plain structured message with a "type" field, skipped entirely if the
// gate is closed.
func (g *Gate) Log(level Level, typ Type, msg string, fields map[string]interface{}) {
	ev := g.Event(level, typ)
	if ev == nil {
		return
	}
	ev = ev.Str("type", typ.String())
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
