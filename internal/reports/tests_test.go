package reports_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/internal/reports"
)

func TestParseTestReport(t *testing.T) {
	tests := []struct {
		name        string
		format      string
		output      string
		wantTotal   int
		wantPassed  int
		wantFailed  int
		wantSkipped int
		wantFailure string
	}{
		{
			name:   "go test -json",
			format: reports.FormatGoTest,
			output: `{"Action":"run","Package":"example/pkg","Test":"TestOne"}
{"Action":"pass","Package":"example/pkg","Test":"TestOne","Elapsed":0.1}
{"Action":"run","Package":"example/pkg","Test":"TestTwo"}
{"Action":"output","Package":"example/pkg","Test":"TestTwo","Output":"want 1, got 2\n"}
{"Action":"fail","Package":"example/pkg","Test":"TestTwo","Elapsed":0.1}
{"Action":"fail","Package":"example/pkg","Elapsed":0.4}`,
			wantTotal:   2,
			wantPassed:  1,
			wantFailed:  1,
			wantFailure: "TestTwo",
		},
		{
			name:   "go test verbose text",
			format: reports.FormatGoTest,
			output: `=== RUN   TestOne
--- PASS: TestOne (0.10s)
=== RUN   TestTwo
--- FAIL: TestTwo (0.20s)
=== RUN   TestThree
--- SKIP: TestThree (0.00s)
FAIL`,
			wantTotal:   3,
			wantPassed:  1,
			wantFailed:  1,
			wantSkipped: 1,
			wantFailure: "TestTwo",
		},
		{
			name:   "pytest",
			format: reports.FormatPytest,
			output: `tests/test_app.py ..F.s
FAILED tests/test_app.py::test_save - AssertionError
=========== 1 failed, 3 passed, 1 skipped in 1.23s ===========`,
			wantTotal:   5,
			wantPassed:  3,
			wantFailed:  1,
			wantSkipped: 1,
			wantFailure: "tests/test_app.py::test_save",
		},
		{
			name:   "jest json",
			format: reports.FormatJest,
			output: `{"numTotalTests":3,"numPassedTests":2,"numFailedTests":1,"numPendingTests":0,
"testResults":[{"name":"app.test.js","assertionResults":[
{"fullName":"app saves","status":"passed","duration":5},
{"fullName":"app loads","status":"failed","duration":7,"failureMessages":["boom"]}]}]}`,
			wantTotal:   3,
			wantPassed:  2,
			wantFailed:  1,
			wantFailure: "app loads",
		},
		{
			name:        "jest text",
			format:      reports.FormatJest,
			output:      "Tests:       1 failed, 1 skipped, 3 passed, 5 total\nTime: 2.1s",
			wantTotal:   5,
			wantPassed:  3,
			wantFailed:  1,
			wantSkipped: 1,
		},
		{
			name:   "junit testsuites",
			format: reports.FormatJUnit,
			output: `<?xml version="1.0"?>
<testsuites>
  <testsuite name="app" time="1.5">
    <testcase name="saves" classname="AppTest"/>
    <testcase name="loads" classname="AppTest"><failure message="expected 1"/></testcase>
    <testcase name="crashes" classname="AppTest"><error message="npe"/></testcase>
    <testcase name="later" classname="AppTest"><skipped/></testcase>
  </testsuite>
</testsuites>`,
			wantTotal:   4,
			wantPassed:  1,
			wantFailed:  2,
			wantSkipped: 1,
			wantFailure: "loads",
		},
		{
			name:   "junit single testsuite",
			format: "JUnit",
			output: `<testsuite name="app"><testcase name="one" classname="A"/></testsuite>`,
			wantTotal:  1,
			wantPassed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := reports.ParseTestReport(tt.format, []byte(tt.output))
			require.NoError(t, err)

			assert.Equal(t, tt.wantTotal, summary.Total)
			assert.Equal(t, tt.wantPassed, summary.Passed)
			assert.Equal(t, tt.wantFailed, summary.Failed)
			assert.Equal(t, tt.wantSkipped, summary.Skipped)

			if tt.wantFailure != "" {
				require.NotEmpty(t, summary.Failures)
				assert.Equal(t, tt.wantFailure, summary.Failures[0].Name)
			}
		})
	}
}

func TestParseTestReport_Errors(t *testing.T) {
	_, err := reports.ParseTestReport("mocha", []byte("ok"))
	require.ErrorIs(t, err, reports.ErrUnknownFormat)

	_, err = reports.ParseTestReport(reports.FormatGoTest, []byte("no tests to run"))
	require.ErrorIs(t, err, reports.ErrEmptyReport)

	_, err = reports.ParseTestReport(reports.FormatJUnit, []byte("<not xml"))
	require.Error(t, err)
}

func TestParseTestReport_GoFailureOutput(t *testing.T) {
	output := `{"Action":"output","Package":"p","Test":"TestX","Output":"    x_test.go:10: boom\n"}
{"Action":"fail","Package":"p","Test":"TestX","Elapsed":0}`

	summary, err := reports.ParseTestReport(reports.FormatGoTest, []byte(output))
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "p", summary.Failures[0].Suite)
	assert.Contains(t, summary.Failures[0].Message, "boom")
}
