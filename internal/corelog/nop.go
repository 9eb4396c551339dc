package corelog

// Nop is a Logger that discards everything; used by tests that need a
// Logger value but don't care about its output.
type Nop struct{}

func (Nop) Debug(string, ...interface{})                    {}
func (Nop) Info(string, ...interface{})                     {}
func (Nop) Warn(string, ...interface{})                     {}
func (Nop) Error(string, ...interface{})                    {}
func (n Nop) WithField(string, interface{}) Logger          { return n }
func (n Nop) WithFields(map[string]interface{}) Logger      { return n }
