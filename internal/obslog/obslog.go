// Package obslog provides the process's logging conventions: a structured
// zerolog logger for per-event subsystem/algedonic logging, layered under the
// teacher's plain colorized stdout banners for startup/shutdown and
// end-of-run summaries (see internal/respool/persistence.go).
package obslog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// L is the process-wide structured logger. VSM subsystems log through it with
// fields identifying the subsystem and, where relevant, the channel or
// signal involved.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Subsystem returns a logger pre-tagged with the given subsystem name, used
// by S1-S5, the algedonic channel, and the supervisor so every line is
// attributable without repeating the field at each call site.
func Subsystem(name string) zerolog.Logger {
	return L.With().Str("subsystem", name).Logger()
}

const (
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// Banner prints a single colorized, timestamped line, matching the
// teacher's mockPersister end-of-run summary style, for output meant to be
// read by a human at a terminal rather than parsed.
func Banner(format string, args ...any) {
	fmt.Printf("%s[%s] %s%s\n", colorYellow, time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...), colorReset)
}

// Section prints a titled, ruled block, grounded on
// mockPersister.PrintFinalMetrics's columnar summary formatting.
func Section(title string, rows map[string]string, order []string) {
	sep := strings.Repeat("-", 60)
	fmt.Println(sep)
	fmt.Printf("%-30s %24s\n", title, "")
	fmt.Println(sep)
	for _, k := range order {
		fmt.Printf("%-30s %24s\n", k, rows[k])
	}
	fmt.Println(sep)
}
