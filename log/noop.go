package log

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything, for tests and
// callers that don't care about output.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(string)          {}
func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Info(string)           {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Error(string)          {}
func (noopLogger) Errorf(string, ...any) {}
func (noopLogger) With(...any) Logger    { return noopLogger{} }
