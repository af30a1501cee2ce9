// Package report implements the delivery of outcome messages to the origin of a request
package report

import (
	"context"
	"log/slog"
	"sync"

	"github.com/github/deploylock"
)

// Message is an outcome message for the origin of a request
type Message struct {
	Origin deploylock.Origin
	// TargetID identifies the notification to update (e.g. the reaction to the command)
	TargetID int64
	// Body of the message, in markdown
	Body string
	// Success is true if the message reports a successful outcome
	Success bool
	// Silent is set for successful outcomes that do not need a visible acknowledgment
	Silent bool
}

// Reporter delivers outcome messages
type Reporter interface {
	Report(ctx context.Context, msg Message) error
}

// Log is a Reporter that writes messages to a logger
type Log struct {
	log *slog.Logger
}

// NewLog returns a Reporter that logs messages. A nil logger discards them.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = deploylock.DiscardLogger()
	}
	return &Log{log: log}
}

// Report logs the message, at warn level for failures
func (l *Log) Report(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	if !msg.Success {
		level = slog.LevelWarn
	}

	l.log.Log(
		ctx,
		level,
		msg.Body,
		"repository", msg.Origin.Repository,
		"issue", msg.Origin.Issue,
		"success", msg.Success,
	)

	return nil
}

// Recorder is a Reporter that keeps the messages it receives
type Recorder struct {
	mtx      sync.Mutex
	messages []Message
	err      error
}

// NewRecorder returns a Recorder. If err is not nil, every Report returns it after recording the message.
func NewRecorder(err error) *Recorder {
	return &Recorder{err: err}
}

// Report records the message
func (r *Recorder) Report(_ context.Context, msg Message) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.messages = append(r.messages, msg)
	return r.err
}

// Messages returns the recorded messages
func (r *Recorder) Messages() []Message {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return append([]Message(nil), r.messages...)
}

// Last returns the last recorded message, if any
func (r *Recorder) Last() (Message, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}
