package tracing

import (
	"io"
	"os"
)

// traceWriter resolves the configured trace output: empty or "stdout"
// uses stdouttrace's own default (os.Stdout, returned as nil here so the
// caller skips WithWriter), anything else opens it as an append-only file.
func traceWriter(output string) (io.Writer, error) {
	if output == "" || output == "stdout" {
		return nil, nil
	}
	return os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
