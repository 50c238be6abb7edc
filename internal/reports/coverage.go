package reports

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Coverage report formats.
const (
	FormatJaCoCo    = "jacoco"
	FormatCobertura = "cobertura"
	FormatLCOV      = "lcov"
	FormatGoCover   = "gocover"
	FormatIstanbul  = "istanbul"
)

const percent = 100

// CoverageSummary holds the totals of one coverage report. Percentages are
// 0 to 100 and are zero when the report has nothing of that kind.
type CoverageSummary struct {
	LineCoverage     float64 `json:"line_coverage"`
	BranchCoverage   float64 `json:"branch_coverage"`
	FunctionCoverage float64 `json:"function_coverage"`
	TotalLines       int     `json:"total_lines"`
	CoveredLines     int     `json:"covered_lines"`
	TotalBranches    int     `json:"total_branches"`
	CoveredBranches  int     `json:"covered_branches"`
	TotalFunctions   int     `json:"total_functions"`
	CoveredFunctions int     `json:"covered_functions"`
}

// ParseCoverageReport parses a coverage report in the given format.
func ParseCoverageReport(format string, data []byte) (*CoverageSummary, error) {
	var (
		summary *CoverageSummary
		err     error
	)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJaCoCo:
		summary, err = parseJaCoCo(data)
	case FormatCobertura:
		summary, err = parseCobertura(data)
	case FormatLCOV:
		summary = parseLCOV(data)
	case FormatGoCover:
		summary, err = parseGoCover(data)
	case FormatIstanbul:
		summary, err = parseIstanbul(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if summary.TotalLines == 0 && summary.TotalBranches == 0 && summary.TotalFunctions == 0 {
		return nil, ErrEmptyReport
	}
	summary.computeRates()
	return summary, nil
}

func rate(covered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(covered) / float64(total) * percent
}

func (s *CoverageSummary) computeRates() {
	s.LineCoverage = rate(s.CoveredLines, s.TotalLines)
	s.BranchCoverage = rate(s.CoveredBranches, s.TotalBranches)
	s.FunctionCoverage = rate(s.CoveredFunctions, s.TotalFunctions)
}

// =============================================================================
// JaCoCo XML
// =============================================================================

type jacocoCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

type jacocoReport struct {
	XMLName  xml.Name        `xml:"report"`
	Counters []jacocoCounter `xml:"counter"`
}

// parseJaCoCo reads the report-level counters, which total every package.
func parseJaCoCo(data []byte) (*CoverageSummary, error) {
	var report jacocoReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse jacoco report: %w", err)
	}

	summary := &CoverageSummary{}
	for _, c := range report.Counters {
		total := c.Missed + c.Covered
		switch c.Type {
		case "LINE":
			summary.TotalLines, summary.CoveredLines = total, c.Covered
		case "BRANCH":
			summary.TotalBranches, summary.CoveredBranches = total, c.Covered
		case "METHOD":
			summary.TotalFunctions, summary.CoveredFunctions = total, c.Covered
		}
	}
	return summary, nil
}

// =============================================================================
// Cobertura XML
// =============================================================================

type coberturaReport struct {
	XMLName         xml.Name `xml:"coverage"`
	LinesValid      int      `xml:"lines-valid,attr"`
	LinesCovered    int      `xml:"lines-covered,attr"`
	BranchesValid   int      `xml:"branches-valid,attr"`
	BranchesCovered int      `xml:"branches-covered,attr"`
	Packages        []struct {
		Classes []struct {
			Methods []struct {
				LineRate float64 `xml:"line-rate,attr"`
			} `xml:"methods>method"`
		} `xml:"classes>class"`
	} `xml:"packages>package"`
}

// parseCobertura reads the root totals. Cobertura has no function totals, so
// methods with any covered line count as covered functions.
func parseCobertura(data []byte) (*CoverageSummary, error) {
	var report coberturaReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse cobertura report: %w", err)
	}

	summary := &CoverageSummary{
		TotalLines:      report.LinesValid,
		CoveredLines:    report.LinesCovered,
		TotalBranches:   report.BranchesValid,
		CoveredBranches: report.BranchesCovered,
	}
	for _, pkg := range report.Packages {
		for _, class := range pkg.Classes {
			for _, method := range class.Methods {
				summary.TotalFunctions++
				if method.LineRate > 0 {
					summary.CoveredFunctions++
				}
			}
		}
	}
	return summary, nil
}

// =============================================================================
// LCOV
// =============================================================================

// parseLCOV sums the per-file LF/LH, BRF/BRH and FNF/FNH totals.
func parseLCOV(data []byte) *CoverageSummary {
	summary := &CoverageSummary{}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		n := atoi(value)
		switch key {
		case "LF":
			summary.TotalLines += n
		case "LH":
			summary.CoveredLines += n
		case "BRF":
			summary.TotalBranches += n
		case "BRH":
			summary.CoveredBranches += n
		case "FNF":
			summary.TotalFunctions += n
		case "FNH":
			summary.CoveredFunctions += n
		}
	}
	return summary
}

// =============================================================================
// Go cover profile
// =============================================================================

// parseGoCover reads a go test -coverprofile file. Statements stand in for
// lines; blocks repeated across profiles are counted once, covered if any
// profile covered them.
func parseGoCover(data []byte) (*CoverageSummary, error) {
	type block struct {
		statements int
		covered    bool
	}
	blocks := make(map[string]*block)
	var order []string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "mode:") {
			continue
		}

		// file.go:12.34,15.2 3 1
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("parse cover profile line %d: %q", lineNo, line)
		}
		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parse cover profile line %d: %w", lineNo, err)
		}
		count, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("parse cover profile line %d: %w", lineNo, err)
		}

		b, ok := blocks[fields[0]]
		if !ok {
			b = &block{statements: statements}
			blocks[fields[0]] = b
			order = append(order, fields[0])
		}
		b.covered = b.covered || count > 0
	}

	summary := &CoverageSummary{}
	for _, key := range order {
		b := blocks[key]
		summary.TotalLines += b.statements
		if b.covered {
			summary.CoveredLines += b.statements
		}
	}
	return summary, nil
}

// =============================================================================
// Istanbul json-summary
// =============================================================================

type istanbulMetric struct {
	Total   int `json:"total"`
	Covered int `json:"covered"`
}

type istanbulSummary struct {
	Total struct {
		Lines     istanbulMetric `json:"lines"`
		Branches  istanbulMetric `json:"branches"`
		Functions istanbulMetric `json:"functions"`
	} `json:"total"`
}

// parseIstanbul reads coverage-summary.json as written by the json-summary reporter.
func parseIstanbul(data []byte) (*CoverageSummary, error) {
	var report istanbulSummary
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse istanbul summary: %w", err)
	}
	return &CoverageSummary{
		TotalLines:       report.Total.Lines.Total,
		CoveredLines:     report.Total.Lines.Covered,
		TotalBranches:    report.Total.Branches.Total,
		CoveredBranches:  report.Total.Branches.Covered,
		TotalFunctions:   report.Total.Functions.Total,
		CoveredFunctions: report.Total.Functions.Covered,
	}, nil
}
