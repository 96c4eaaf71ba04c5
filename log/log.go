// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the contextual, leveled logger used across the
// node: a small Logger interface with New/NewWith constructors that attach
// structured key/value context, built on top of go.uber.org/zap.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the contextual logging interface used throughout the node.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	// NewWith returns a Logger that always logs the given key/value context
	// in addition to whatever is passed per-call.
	NewWith(ctx ...interface{}) Logger
}

type logger struct {
	z *zap.SugaredLogger
}

var (
	rootOnce sync.Once
	root     *zap.Logger
)

func rootLogger() *zap.Logger {
	rootOnce.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			// fall back to a no-op logger; logging must never be the
			// reason the node fails to start.
			l = zap.NewNop()
		}
		root = l
	})
	return root
}

// New creates a new Logger with the given alternating key/value context.
func New(ctx ...interface{}) Logger {
	return &logger{z: rootLogger().Sugar().With(ctx...)}
}

// NewModuleLogger tags every record with the owning module for
// grep-ability in aggregated logs.
func NewModuleLogger(module string) Logger {
	return New("module", module)
}

func (l *logger) NewWith(ctx ...interface{}) Logger {
	return &logger{z: l.z.With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.z.Debugw(msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.z.Debugw(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.z.Infow(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.z.Warnw(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.z.Errorw(msg, ctx...) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.z.Errorw(msg, ctx...)
	os.Exit(1)
}
