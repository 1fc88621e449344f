package dispatch

// ProgressNotifier receives fire-and-forget progress notifications for the
// UI collaborator. Implementations must not block: the dispatcher never
// waits on these calls. At most one progress indicator is active; opening a
// new one while one is open replaces it.
type ProgressNotifier interface {
	OpenProgress(message string)
	UpdateProgress(message string)
	CloseProgress()
}

// NopNotifier discards all progress notifications.
type NopNotifier struct{}

func (NopNotifier) OpenProgress(string)   {}
func (NopNotifier) UpdateProgress(string) {}
func (NopNotifier) CloseProgress()        {}

// LogNotifier forwards progress notifications to the logger, for headless
// operation.
type LogNotifier struct {
	Logger Logger
}

func (n *LogNotifier) OpenProgress(message string) {
	if n.Logger != nil {
		n.Logger.Infof("%s", message)
	}
}

func (n *LogNotifier) UpdateProgress(message string) {
	if n.Logger != nil {
		n.Logger.Infof("%s", message)
	}
}

func (n *LogNotifier) CloseProgress() {}
