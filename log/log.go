// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package log provides the structured, leveled logger used throughout
// luasafe. It follows the key/value calling convention familiar from
// go-ethereum's log package: Info("message", "key", value, "key", value).
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging severity level.
type Lvl int

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
)

var lvlNames = [...]string{
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
}

func (l Lvl) String() string {
	if int(l) < len(lvlNames) {
		return lvlNames[l]
	}
	return "???"
}

var lvlColor = [...]*color.Color{
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
}

// Logger emits leveled, structured records to an underlying writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Lvl
	color  bool
	ctx    []interface{} // bound key/value pairs, inherited by children
}

var root = New(os.Stderr)

// Root returns the process-wide default logger.
func Root() *Logger { return root }

// New creates a Logger writing to w. Color is auto-detected when w is a
// terminal (via mattn/go-isatty) and rendered through mattn/go-colorable so
// ANSI sequences work on Windows consoles too.
func New(w io.Writer) *Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return &Logger{out: w, level: LvlInfo, color: useColor}
}

// SetLevel adjusts the minimum severity that will be emitted.
func (l *Logger) SetLevel(lvl Lvl) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

// With returns a child logger with additional bound key/value context.
func (l *Logger) With(ctx ...interface{}) *Logger {
	return &Logger{out: l.out, level: l.level, color: l.color, ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
}

func (l *Logger) log(lvl Lvl, msg string, ctx []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl > l.level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	caller := callerFrame(3)
	header := fmt.Sprintf("%s [%s] %s", ts, lvl, msg)
	if l.color {
		header = fmt.Sprintf("%s [%s] %s", ts, lvlColor[lvl].Sprint(lvl), msg)
	}
	fmt.Fprint(l.out, header)
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	if len(all)%2 == 1 {
		fmt.Fprintf(l.out, " %v=<missing>", all[len(all)-1])
	}
	fmt.Fprintf(l.out, " caller=%s\n", caller)
}

func callerFrame(skip int) string {
	call := stack.Caller(skip)
	return fmt.Sprintf("%v", call)
}

func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }

func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
