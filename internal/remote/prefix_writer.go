package remote

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

const hostLinePrefixTemplateConstant = "[%s] %s\n"

// PrefixedLineWriter forwards complete lines to the target with a "[host] " prefix.
// Writers for several hosts may share one target; lines never interleave mid-line.
type PrefixedLineWriter struct {
	target      io.Writer
	targetMutex *sync.Mutex
	host        string

	mutex   sync.Mutex
	pending bytes.Buffer
}

// NewPrefixedLineWriter builds a writer for host. targetMutex serializes writes to target across hosts.
func NewPrefixedLineWriter(target io.Writer, targetMutex *sync.Mutex, host string) *PrefixedLineWriter {
	if targetMutex == nil {
		targetMutex = &sync.Mutex{}
	}
	return &PrefixedLineWriter{target: target, targetMutex: targetMutex, host: host}
}

// Write buffers data and emits every completed line.
func (writer *PrefixedLineWriter) Write(data []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	writer.pending.Write(data)
	for {
		buffered := writer.pending.Bytes()
		newlineIndex := bytes.IndexByte(buffered, '\n')
		if newlineIndex < 0 {
			break
		}
		line := bytes.TrimRight(buffered[:newlineIndex], "\r")
		if emitError := writer.emit(string(line)); emitError != nil {
			return 0, emitError
		}
		writer.pending.Next(newlineIndex + 1)
	}
	return len(data), nil
}

// Flush emits any trailing partial line.
func (writer *PrefixedLineWriter) Flush() error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	if writer.pending.Len() == 0 {
		return nil
	}
	line := bytes.TrimRight(writer.pending.Bytes(), "\r")
	writer.pending.Reset()
	return writer.emit(string(line))
}

func (writer *PrefixedLineWriter) emit(line string) error {
	writer.targetMutex.Lock()
	defer writer.targetMutex.Unlock()
	_, writeError := fmt.Fprintf(writer.target, hostLinePrefixTemplateConstant, writer.host, line)
	return writeError
}
