// Package reports parses the test and coverage reports produced by CI jobs
// into the counts and percentages the quality gates evaluate.
package reports

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Test report formats.
const (
	FormatGoTest = "go"
	FormatPytest = "pytest"
	FormatJest   = "jest"
	FormatJUnit  = "junit"
)

// ErrUnknownFormat is returned for a report format no parser handles.
var ErrUnknownFormat = errors.New("unknown report format")

// ErrEmptyReport is returned when a report contains no recognisable results.
var ErrEmptyReport = errors.New("report contains no results")

const (
	statusPassed  = "passed"
	statusFailed  = "failed"
	statusSkipped = "skipped"

	msPerSecond = 1000
)

var (
	goTestLineRe = regexp.MustCompile(`--- (PASS|FAIL|SKIP): (\S+) \(([0-9.]+)s\)`)

	pytestSummaryRe = regexp.MustCompile(
		`(?:(\d+) failed)?(?:, )?(?:(\d+) passed)?(?:, )?(?:(\d+) skipped)?(?:, )?(?:(\d+) errors?)? in ([0-9.]+)s`,
	)
	pytestFailedRe = regexp.MustCompile(`^FAILED\s+(\S+)`)

	jestSummaryRe = regexp.MustCompile(
		`Tests:\s*(?:(\d+) failed,\s*)?(?:(\d+) skipped,\s*)?(?:(\d+) passed,\s*)?(\d+) total`,
	)
)

// FailedTest names one failing test.
type FailedTest struct {
	Name    string `json:"name"`
	Suite   string `json:"suite,omitempty"`
	Message string `json:"message,omitempty"`
}

// TestSummary is the outcome of one test run.
type TestSummary struct {
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	DurationMs int64        `json:"duration_ms"`
	Failures   []FailedTest `json:"failures,omitempty"`
}

// ParseTestReport parses a test report in the given format.
func ParseTestReport(format string, data []byte) (*TestSummary, error) {
	var (
		summary *TestSummary
		err     error
	)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatGoTest:
		summary = parseGoTest(data)
	case FormatPytest:
		summary = parsePytest(data)
	case FormatJest:
		summary = parseJest(data)
	case FormatJUnit:
		summary, err = parseJUnit(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if summary.Total == 0 {
		return nil, ErrEmptyReport
	}
	return summary, nil
}

func (s *TestSummary) add(status string, failure FailedTest) {
	s.Total++
	switch status {
	case statusPassed:
		s.Passed++
	case statusFailed:
		s.Failed++
		s.Failures = append(s.Failures, failure)
	case statusSkipped:
		s.Skipped++
	}
}

// =============================================================================
// go test
// =============================================================================

// goTestEvent is one line of go test -json output.
type goTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

// parseGoTest reads go test -json output, falling back to the verbose text
// format line by line.
func parseGoTest(data []byte) *TestSummary {
	summary := &TestSummary{}

	type testState struct {
		pkg    string
		name   string
		status string
		output strings.Builder
	}
	var order []string
	tests := make(map[string]*testState)

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		var event goTestEvent
		if err := json.Unmarshal([]byte(line), &event); err == nil && event.Action != "" {
			if event.Test == "" {
				if event.Action == "pass" || event.Action == "fail" {
					summary.DurationMs += int64(event.Elapsed * msPerSecond)
				}
				continue
			}
			key := event.Package + "/" + event.Test
			state, ok := tests[key]
			if !ok {
				state = &testState{pkg: event.Package, name: event.Test}
				tests[key] = state
				order = append(order, key)
			}
			switch event.Action {
			case "pass":
				state.status = statusPassed
			case "fail":
				state.status = statusFailed
			case "skip":
				state.status = statusSkipped
			case "output":
				state.output.WriteString(event.Output)
			}
			continue
		}

		if match := goTestLineRe.FindStringSubmatch(line); match != nil {
			status := map[string]string{"PASS": statusPassed, "FAIL": statusFailed, "SKIP": statusSkipped}[match[1]]
			summary.add(status, FailedTest{Name: match[2]})
			duration, _ := strconv.ParseFloat(match[3], 64)
			summary.DurationMs += int64(duration * msPerSecond)
		}
	}

	for _, key := range order {
		state := tests[key]
		if state.status == "" {
			continue
		}
		summary.add(state.status, FailedTest{
			Name:    state.name,
			Suite:   state.pkg,
			Message: strings.TrimSpace(state.output.String()),
		})
	}
	return summary
}

// =============================================================================
// pytest
// =============================================================================

func parsePytest(data []byte) *TestSummary {
	summary := &TestSummary{}
	output := string(data)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if match := pytestFailedRe.FindStringSubmatch(scanner.Text()); match != nil {
			summary.Failures = append(summary.Failures, FailedTest{Name: match[1]})
		}
	}

	match := pytestSummaryRe.FindStringSubmatch(output)
	if match == nil {
		return summary
	}
	failed := atoi(match[1]) + atoi(match[4])
	summary.Passed = atoi(match[2])
	summary.Skipped = atoi(match[3])
	summary.Failed = failed
	summary.Total = summary.Passed + summary.Failed + summary.Skipped
	duration, _ := strconv.ParseFloat(match[5], 64)
	summary.DurationMs = int64(duration * msPerSecond)
	return summary
}

// =============================================================================
// Jest
// =============================================================================

// jestResult is the output of jest --json.
type jestResult struct {
	NumTotalTests   int `json:"numTotalTests"`
	NumPassedTests  int `json:"numPassedTests"`
	NumFailedTests  int `json:"numFailedTests"`
	NumPendingTests int `json:"numPendingTests"`
	TestResults     []struct {
		Name             string `json:"name"`
		AssertionResults []struct {
			FullName        string   `json:"fullName"`
			Status          string   `json:"status"`
			Duration        int64    `json:"duration"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
}

func parseJest(data []byte) *TestSummary {
	var result jestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return parseJestText(string(data))
	}

	summary := &TestSummary{
		Total:   result.NumTotalTests,
		Passed:  result.NumPassedTests,
		Failed:  result.NumFailedTests,
		Skipped: result.NumPendingTests,
	}
	for _, file := range result.TestResults {
		for _, assertion := range file.AssertionResults {
			summary.DurationMs += assertion.Duration
			if assertion.Status != statusFailed {
				continue
			}
			summary.Failures = append(summary.Failures, FailedTest{
				Name:    assertion.FullName,
				Suite:   file.Name,
				Message: strings.Join(assertion.FailureMessages, "\n"),
			})
		}
	}
	return summary
}

func parseJestText(output string) *TestSummary {
	summary := &TestSummary{}
	if match := jestSummaryRe.FindStringSubmatch(output); match != nil {
		summary.Failed = atoi(match[1])
		summary.Skipped = atoi(match[2])
		summary.Passed = atoi(match[3])
		summary.Total = atoi(match[4])
	}
	return summary
}

// =============================================================================
// JUnit XML
// =============================================================================

type junitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Time      float64         `xml:"time,attr"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitProblem `xml:"failure"`
	Error     *junitProblem `xml:"error"`
	Skipped   *struct{}     `xml:"skipped"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
}

// parseJUnit accepts both a <testsuites> root and a single <testsuite>.
func parseJUnit(data []byte) (*TestSummary, error) {
	var suites junitTestSuites
	if err := xml.Unmarshal(data, &suites); err == nil {
		summary := &TestSummary{}
		for i := range suites.TestSuites {
			addJUnitSuite(summary, &suites.TestSuites[i])
		}
		return summary, nil
	}

	var suite junitTestSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse junit report: %w", err)
	}
	summary := &TestSummary{}
	addJUnitSuite(summary, &suite)
	return summary, nil
}

func addJUnitSuite(summary *TestSummary, suite *junitTestSuite) {
	summary.DurationMs += int64(suite.Time * msPerSecond)

	for _, tc := range suite.TestCases {
		failure := FailedTest{Name: tc.Name, Suite: tc.ClassName}
		switch {
		case tc.Skipped != nil:
			summary.add(statusSkipped, failure)
		case tc.Failure != nil:
			failure.Message = tc.Failure.Message
			summary.add(statusFailed, failure)
		case tc.Error != nil:
			failure.Message = tc.Error.Message
			summary.add(statusFailed, failure)
		default:
			summary.add(statusPassed, failure)
		}
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
