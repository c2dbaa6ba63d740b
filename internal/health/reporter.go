package health

// Reporter receives human-readable progress from a poll session. It is a
// pure sink: nothing it does affects the poll loop.
type Reporter interface {
	// Start begins (or restarts) an in-progress indicator with msg.
	Start(msg string)
	// Update replaces the current progress text.
	Update(msg string)
	// Ready ends the session successfully for url.
	Ready(url string)
	// TimedOut ends the session after the deadline passed for url.
	TimedOut(url string)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) Start(string)    {}
func (NopReporter) Update(string)   {}
func (NopReporter) Ready(string)    {}
func (NopReporter) TimedOut(string) {}
