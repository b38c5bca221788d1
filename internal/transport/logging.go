// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"io"

	"beatzero/internal/frame"
	applog "beatzero/internal/log"
)

// LoggingTransport writes one text line per frame. With a nil writer lines
// go to the leveled logger.
type LoggingTransport struct {
	out        io.Writer
	onsetsOnly bool
	lines      uint64
	logger     *applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport(out io.Writer, onsetsOnly bool) *LoggingTransport {
	logger := applog.New("Transport")
	logger.Infof("Using LoggingTransport (onsets only: %v)", onsetsOnly)
	return &LoggingTransport{out: out, onsetsOnly: onsetsOnly, logger: logger}
}

// Receive prints f, skipping frames without an onset when configured to.
func (lt *LoggingTransport) Receive(f frame.AnalysisFrame) error {
	if lt.onsetsOnly && !f.Onset.Onset {
		return nil
	}
	lt.lines++
	if lt.out == nil {
		lt.logger.Infof("%s", f)
		return nil
	}
	_, err := fmt.Fprintln(lt.out, f.String())
	return err
}

// Finish reports the end of the stream.
func (lt *LoggingTransport) Finish(status error) error {
	if status != nil {
		lt.logger.Errorf("Stream failed after %d lines: %v", lt.lines, status)
		return nil
	}
	lt.logger.Infof("Stream ended after %d lines", lt.lines)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error { return nil }

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
