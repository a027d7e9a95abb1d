package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// progressObserver shows walk progress as a byte counter with the current
// directory as description.
type progressObserver struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	files int
	bytes int64
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetDescription("walking"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(w)
			}),
		),
	}
}

func (p *progressObserver) DirectoryListed(path string, entries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe(fmt.Sprintf("%s (%d entries)", path, entries))
}

func (p *progressObserver) FileHashed(_ string, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files++
	p.bytes += bytes
	_ = p.bar.Add64(bytes)
}

func (p *progressObserver) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
