package display

// noopTask discards every update. Used where a Task is required by an API
// but no one is watching, such as background repodata refreshes.
type noopTask struct{}

// Noop returns a Task that discards all updates.
func Noop() Task { return noopTask{} }

func (noopTask) Log(string)                 {}
func (noopTask) SetStage(string, string)    {}
func (noopTask) Progress(int, string)       {}
func (noopTask) Done()                      {}
