package converter

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// newProgressBar draws on stderr so stdout stays free for PROGRESS/FINAL
// lines. An invisible bar still counts, which keeps call sites simple.
func newProgressBar(total int, job string, visible bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(job),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("row"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
