package types

// Logger is the structured logger interface a context is driven with.
// Shaped after the teacher's types.Logger: plain and formatted variants
// for every level, plus a runtime debug toggle.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output and returns
	// the new state.
	ToggleDebug(value bool) bool
}
