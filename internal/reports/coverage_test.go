package reports_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/internal/reports"
)

func TestParseCoverageReport(t *testing.T) {
	tests := []struct {
		name         string
		format       string
		report       string
		wantLine     float64
		wantBranch   float64
		wantFunction float64
		wantLines    int
	}{
		{
			name:   "jacoco",
			format: reports.FormatJaCoCo,
			report: `<?xml version="1.0"?>
<report name="app">
  <package name="com/example">
    <counter type="LINE" missed="1" covered="1"/>
  </package>
  <counter type="INSTRUCTION" missed="10" covered="90"/>
  <counter type="BRANCH" missed="5" covered="15"/>
  <counter type="LINE" missed="20" covered="80"/>
  <counter type="METHOD" missed="2" covered="8"/>
</report>`,
			wantLine:     80,
			wantBranch:   75,
			wantFunction: 80,
			wantLines:    100,
		},
		{
			name:   "cobertura",
			format: reports.FormatCobertura,
			report: `<?xml version="1.0"?>
<coverage lines-valid="200" lines-covered="150" branches-valid="40" branches-covered="30">
  <packages><package name="app"><classes><class name="App">
    <methods>
      <method name="save" line-rate="1.0"/>
      <method name="load" line-rate="0.0"/>
    </methods>
  </class></classes></package></packages>
</coverage>`,
			wantLine:     75,
			wantBranch:   75,
			wantFunction: 50,
			wantLines:    200,
		},
		{
			name:   "lcov",
			format: reports.FormatLCOV,
			report: `TN:
SF:src/a.js
FNF:4
FNH:3
LF:10
LH:8
BRF:2
BRH:1
end_of_record
SF:src/b.js
FNF:0
FNH:0
LF:10
LH:10
end_of_record`,
			wantLine:     90,
			wantBranch:   50,
			wantFunction: 75,
			wantLines:    20,
		},
		{
			name:   "go cover profile",
			format: reports.FormatGoCover,
			report: `mode: set
example/a.go:3.10,5.2 3 1
example/a.go:7.10,9.2 1 0
example/b.go:3.10,5.2 4 0
example/b.go:3.10,5.2 4 1`,
			wantLine:  87.5,
			wantLines: 8,
		},
		{
			name:   "istanbul summary",
			format: reports.FormatIstanbul,
			report: `{"total":{"lines":{"total":50,"covered":40,"pct":80},
"branches":{"total":10,"covered":5,"pct":50},
"functions":{"total":8,"covered":6,"pct":75}}}`,
			wantLine:     80,
			wantBranch:   50,
			wantFunction: 75,
			wantLines:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := reports.ParseCoverageReport(tt.format, []byte(tt.report))
			require.NoError(t, err)

			assert.InDelta(t, tt.wantLine, summary.LineCoverage, 0.01)
			assert.InDelta(t, tt.wantBranch, summary.BranchCoverage, 0.01)
			assert.InDelta(t, tt.wantFunction, summary.FunctionCoverage, 0.01)
			assert.Equal(t, tt.wantLines, summary.TotalLines)
		})
	}
}

func TestParseCoverageReport_Errors(t *testing.T) {
	_, err := reports.ParseCoverageReport("clover", []byte("<coverage/>"))
	require.ErrorIs(t, err, reports.ErrUnknownFormat)

	_, err = reports.ParseCoverageReport(reports.FormatLCOV, []byte("TN:\nend_of_record"))
	require.ErrorIs(t, err, reports.ErrEmptyReport)

	_, err = reports.ParseCoverageReport(reports.FormatGoCover, []byte("mode: set\nbroken line"))
	require.Error(t, err)

	_, err = reports.ParseCoverageReport(reports.FormatIstanbul, []byte("{"))
	require.Error(t, err)
}
