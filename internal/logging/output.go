package logging

import (
	"io"
	"os"
)

// stderr is indirected for tests.
var stderrOverride io.Writer

func stderr() io.Writer {
	if stderrOverride != nil {
		return stderrOverride
	}
	return os.Stderr
}
