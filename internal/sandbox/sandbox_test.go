package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/stride/internal/chart"
	"github.com/mpataki/stride/internal/dataset"
)

func paceDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(
		[]string{"pace", "distance", "start_date", "name"},
		[][]string{
			{"7.0", "5.2", "2024-03-01", "Morning Run"},
			{"8.0", "3.1", "2024-03-03", "Tempo"},
			{"9.0", "12.0", "2024-03-07", "Long Run"},
		},
	)
	require.NoError(t, err)
	return d
}

func newExecutor() *Executor {
	return New(Options{Timeout: 2 * time.Second}, nil)
}

func TestRunDataMean(t *testing.T) {
	code := `
local vals = column("pace")
local sum, n = 0, 0
for i = 1, row_count() do
  if vals[i] ~= nil then
    sum = sum + vals[i]
    n = n + 1
  end
end
result(sum / n)
`
	res, err := newExecutor().RunData(context.Background(), code, paceDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "8.0", res.Value)
}

func TestRunDataRows(t *testing.T) {
	code := `
local longest, name
for _, r in ipairs(rows()) do
  if r.distance ~= nil and (longest == nil or r.distance > longest) then
    longest = r.distance
    name = r.name
  end
end
result(name .. ": " .. tostring(longest))
`
	res, err := newExecutor().RunData(context.Background(), code, paceDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "Long Run: 12", res.Value)
}

func TestRunDataTableResult(t *testing.T) {
	code := `result({total = 20.3, runs = 3})`
	res, err := newExecutor().RunData(context.Background(), code, paceDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "runs: 3.0\ntotal: 20.3", res.Value)
}

func TestRunDataMissingResultIsContractViolation(t *testing.T) {
	_, err := newExecutor().RunData(context.Background(), `local x = 1`, paceDataset(t))
	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "result()")
}

func TestRunDataDoubleResult(t *testing.T) {
	_, err := newExecutor().RunData(context.Background(), `result(1) result(2)`, paceDataset(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestRunDataUnknownColumn(t *testing.T) {
	_, err := newExecutor().RunData(context.Background(), `result(column("cadence")[1])`, paceDataset(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown column "cadence"`)
}

func TestRunDataTimeout(t *testing.T) {
	exec := New(Options{Timeout: 100 * time.Millisecond}, nil)
	_, err := exec.RunData(context.Background(), `while true do end`, paceDataset(t))
	var rerr *ResourceLimitError
	require.ErrorAs(t, err, &rerr)
}

func TestRunDataLogs(t *testing.T) {
	code := `
log("checking rows")
result(row_count())
`
	res, err := newExecutor().RunData(context.Background(), code, paceDataset(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"checking rows"}, res.Logs)
	assert.Equal(t, "3.0", res.Value)
}

func TestSandboxHasNoDangerousGlobals(t *testing.T) {
	for _, code := range []string{
		`result(os.time())`,
		`result(io.open("/etc/passwd"))`,
		`load("result(1)")()`,
		`print("hi") result(1)`,
	} {
		_, err := newExecutor().RunData(context.Background(), code, paceDataset(t))
		assert.Error(t, err, code)
	}
}

func TestRunChart(t *testing.T) {
	code := `
local x = column("start_date")
local y = column("distance")
chart.render({kind = "line", title = "Distance over time", xlabel = "Date", ylabel = "Miles", x = x, y = y})
`
	res, err := newExecutor().RunChart(context.Background(), code, paceDataset(t))
	require.NoError(t, err)
	require.NotNil(t, res.Chart)
	assert.Equal(t, chart.Line, res.Chart.Kind)
	assert.Equal(t, "Distance over time", res.Chart.Title)
	assert.True(t, res.Chart.TimeX)
	require.Len(t, res.Chart.X, 3)
	assert.Equal(t, []float64{5.2, 3.1, 12.0}, res.Chart.Y)

	// Captured specs must render.
	png, err := chart.Render(*res.Chart)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

func TestRunChartMissingRenderIsContractViolation(t *testing.T) {
	_, err := newExecutor().RunChart(context.Background(), `local x = column("pace")`, paceDataset(t))
	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "chart.render()")
}

func TestRunChartRejectsNilHoles(t *testing.T) {
	code := `chart.render({kind = "line", x = {1, nil, 3}, y = {1, 2, 3}})`
	res, err := newExecutor().RunChart(context.Background(), code, paceDataset(t))
	if err == nil {
		// Either the hole is caught during capture or the truncated array
		// fails length validation at render time.
		_, err = chart.Render(*res.Chart)
	}
	require.Error(t, err)
}

func TestResultValueMustBeFlat(t *testing.T) {
	_, err := newExecutor().RunData(context.Background(), `result({a = {1, 2}})`, paceDataset(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numbers and strings")
}

func TestDatasetIsNotMutated(t *testing.T) {
	ds := paceDataset(t)
	code := `
local vals = column("pace")
vals[1] = 999
result(vals[1])
`
	_, err := newExecutor().RunData(context.Background(), code, ds)
	require.NoError(t, err)

	pace, err := ds.NumericColumn("pace")
	require.NoError(t, err)
	assert.Equal(t, 7.0, pace[0])
}
