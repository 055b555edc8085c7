// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a thin wrapper around zap logging. Loggers carry
// key value context and can be attached to a context.Context.
package log

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...interface{}) Logger
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Enabled(lvl Level) bool
}

// Level is the log level.
type Level = zapcore.Level

// The log levels.
const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelError = zapcore.ErrorLevel
)

// Config configures the logger.
type Config struct {
	// Level of the logging entries. Supported values: "debug", "info",
	// "error". Defaults to "info".
	Level string `toml:"level,omitempty"`
	// Format of the logging entries: "human" or "json". Defaults to "human".
	Format string `toml:"format,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values.
func (cfg *Config) InitDefaults() {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "human"
	}
}

var (
	rootMtx sync.RWMutex
	root    Logger = newLogger(zap.NewNop())
)

// Setup configures the process-wide root logger. It must be called before
// the root logger is used.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return serrors.New("unsupported log level", "level", cfg.Level)
	}
	var zCfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "human":
		zCfg = zap.NewDevelopmentConfig()
	case "json":
		zCfg = zap.NewProductionConfig()
	default:
		return serrors.New("unsupported log format", "format", cfg.Format)
	}
	zCfg.Level = zap.NewAtomicLevelAt(lvl)
	zLogger, err := zCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return serrors.Wrap("creating logger", err)
	}
	rootMtx.Lock()
	defer rootMtx.Unlock()
	root = newLogger(zLogger)
	return nil
}

// Root returns the root logger. It is never nil.
func Root() Logger {
	rootMtx.RLock()
	defer rootMtx.RUnlock()
	return root
}

// Discard sets the root logger up to discard all log entries. This is
// useful for testing.
func Discard() {
	rootMtx.Lock()
	defer rootMtx.Unlock()
	root = newLogger(zap.NewNop())
}

// New creates a logger with the given context attached to the root logger.
func New(ctx ...interface{}) Logger {
	return Root().New(ctx...)
}

// HandlePanic catches panics and logs them. Spawned goroutines should defer
// it so a panicking task cannot take down its siblings.
func HandlePanic() {
	if msg := recover(); msg != nil {
		Root().Error("Panic", "msg", msg, "stack", zap.Stack("stacktrace"))
	}
}

// NewDebugID creates a new random debug id that identifies one run of a
// long-lived task in the logs.
func NewDebugID() DebugID {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return DebugID(binary.BigEndian.Uint32(b[:]))
}

// DebugID is a short-lived identifier attached to log lines of one task run.
type DebugID uint32

func (id DebugID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

type logger struct {
	logger *zap.Logger
}

func newLogger(l *zap.Logger) *logger {
	return &logger{logger: l}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return newLogger(l.logger.With(convertCtx(ctx)...))
}

func (l *logger) Debug(msg string, ctx ...interface{}) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...interface{}) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...interface{}) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func convertCtx(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}
