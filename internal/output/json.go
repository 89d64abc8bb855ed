package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// JSONWriter writes output in JSON format. In stream mode pages and issues
// are written as one event per line as they are produced.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteReport writes the complete report.
func (j *JSONWriter) WriteReport(report *Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(report)
}

// WritePage writes a single page in streaming mode.
func (j *JSONWriter) WritePage(page *model.Page) error {
	return j.writeEvent("page", page)
}

// WriteIssue writes a single issue in streaming mode.
func (j *JSONWriter) WriteIssue(issue *model.Issue) error {
	return j.writeEvent("issue", issue)
}

func (j *JSONWriter) writeEvent(kind string, data interface{}) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(StreamEvent{Type: kind, Data: data})
}

// write marshals v followed by a newline.
func (j *JSONWriter) write(v interface{}) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err := j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
