package engine

import (
	"bytes"
	"strings"
)

// lineWriter splits written bytes into lines and hands each non-blank one to
// a LogSink. Flush emits a trailing line without a newline.
type lineWriter struct {
	sink  LogSink
	level string
	buf   bytes.Buffer
}

func newLineWriter(sink LogSink, level string) *lineWriter {
	return &lineWriter{sink: sink, level: level}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(w.buf.Next(i + 1))
		w.emit(line)
	}
}

func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.sink(w.level, line)
}
