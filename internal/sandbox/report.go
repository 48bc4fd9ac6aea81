package sandbox

// Test statuses as they appear in stored grading reports. Clients key UI
// states off these exact strings, so they are part of the wire format.
const (
	StatusPass     = "PASS"
	StatusLate     = "LATE"
	StatusFail     = "FAIL"
	StatusTimedOut = "TIMED OUT"
	StatusErr      = "ERR"
)

// InputOutput carries the test transcript disclosed for public tests.
// Private tests omit it so students cannot reverse-engineer hidden cases.
type InputOutput struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

// TestResult is the outcome of a single test case.
type TestResult struct {
	TestName    string       `json:"test_name"`
	Status      string       `json:"status"`
	InputOutput *InputOutput `json:"input_output"`
}

// SubmissionReport is the full grading result for one submission. It is
// marshaled as-is into the grade store and returned verbatim to clients.
type SubmissionReport struct {
	Tests  []TestResult `json:"tests"`
	Passes int          `json:"passes"`
}

// Pass records a passing test. Late submissions pass with status LATE so
// the report shows the penalty that was applied.
func (r *SubmissionReport) Pass(name string, late bool, io *InputOutput) {
	status := StatusPass
	if late {
		status = StatusLate
	}
	r.Tests = append(r.Tests, TestResult{TestName: name, Status: status, InputOutput: io})
	r.Passes++
}

// Fail records a test whose output did not match the expected output.
func (r *SubmissionReport) Fail(name string, io *InputOutput) {
	r.Tests = append(r.Tests, TestResult{TestName: name, Status: StatusFail, InputOutput: io})
}

// TimeOut records a test that exceeded its run deadline.
func (r *SubmissionReport) TimeOut(name string, io *InputOutput) {
	r.Tests = append(r.Tests, TestResult{TestName: name, Status: StatusTimedOut, InputOutput: io})
}

// Err records a test whose container produced errors instead of output.
func (r *SubmissionReport) Err(name string, io *InputOutput) {
	r.Tests = append(r.Tests, TestResult{TestName: name, Status: StatusErr, InputOutput: io})
}

// Score returns the fraction of tests passed, 0 for an empty report.
func (r *SubmissionReport) Score() float32 {
	if len(r.Tests) == 0 {
		return 0
	}
	return float32(r.Passes) / float32(len(r.Tests))
}
