package database

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// PrintRecentLogTail writes the last `lines` lines of logPath to w. It is
// invoked when a job aborts so the operator sees the failures recorded just
// before it. LOG_TAIL_LINES overrides the line count.
func PrintRecentLogTail(w io.Writer, logPath string, lines int) {
	if envLines := os.Getenv("LOG_TAIL_LINES"); envLines != "" {
		if v, err := strconv.Atoi(envLines); err == nil && v > 0 {
			lines = v
		}
	}

	if lines <= 0 {
		lines = 50
	}

	f, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(w, "Failed to open log file %s: %v\n", logPath, err)
		return
	}
	defer f.Close()

	// Ring of the last N lines so large failure logs are not held in memory.
	tail := make([]string, 0, lines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(tail) == lines {
			tail = tail[1:]
		}
		tail = append(tail, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(w, "Failed to read log file %s: %v\n", logPath, err)
		return
	}

	fmt.Fprintf(w, "--- BEGIN LOG TAIL (%s) last %d lines ---\n", logPath, lines)
	for _, l := range tail {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintf(w, "---  END LOG TAIL (%s) ---\n", logPath)
}
