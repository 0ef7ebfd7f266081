package patch

// Result counts the outcome of every write site a patcher visited.
// A write that went ahead despite a mismatch counts as both Applied and Warned.
type Result struct {
	Applied int `yaml:"applied"`
	Skipped int `yaml:"skipped"`
	Warned  int `yaml:"warned"`
	Failed  int `yaml:"failed"`
}

// Add accumulates other into r
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Applied += other.Applied
	r.Skipped += other.Skipped
	r.Warned += other.Warned
	r.Failed += other.Failed
}

// Noop reports whether nothing was written and nothing failed
func (r *Result) Noop() bool {
	return r.Applied == 0 && r.Failed == 0
}
