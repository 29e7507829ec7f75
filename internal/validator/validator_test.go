package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpataki/stride/internal/dataset"
)

func testSchema() dataset.Schema {
	return dataset.Schema{
		{Name: "pace", Type: dataset.Numeric},
		{Name: "distance", Type: dataset.Numeric},
		{Name: "start_date", Type: dataset.Datetime},
	}
}

func TestAcceptsWellFormedDataCode(t *testing.T) {
	v := New(testSchema())

	code := `
local vals = column("pace")
local sum, n = 0, 0
for i = 1, row_count() do
  if vals[i] ~= nil then
    sum = sum + vals[i]
    n = n + 1
  end
end
if n == 0 then
  result("No data found")
else
  result(sum / n)
end
`
	verdict := v.CheckData(code)
	assert.True(t, verdict.Accepted, verdict.Reason)
}

func TestRejectsParseError(t *testing.T) {
	v := New(testSchema())

	verdict := v.CheckData(`local x = (1 +`)
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, "parse error")
}

func TestRejectsForbiddenIdentifiers(t *testing.T) {
	v := New(testSchema())

	cases := map[string]string{
		`os.execute("rm -rf /")`:          "os",
		`local f = io.open("x")`:          "io",
		`require("socket")`:               "require",
		`load("result(1)")()`:             "load",
		`print(column("pace"))`:           "print",
		`setmetatable({}, {})`:            "setmetatable",
		`local g = _G`:                    "_G",
	}

	for code, name := range cases {
		verdict := v.CheckData(code)
		assert.False(t, verdict.Accepted, code)
		assert.Contains(t, verdict.Reason, name)
	}
}

func TestRejectsUnknownColumn(t *testing.T) {
	v := New(testSchema())

	verdict := v.CheckData(`result(column("heartrate")[1])`)
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, `unknown column "heartrate"`)
	assert.Contains(t, verdict.Reason, "pace, distance, start_date")
}

func TestRejectsUnknownGlobal(t *testing.T) {
	v := New(testSchema())

	verdict := v.CheckData(`result(dataframe.mean())`)
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, `"dataframe"`)
}

func TestLocalsAndParamsAreNotGlobals(t *testing.T) {
	v := New(testSchema())

	code := `
local function mean(vals)
  local sum, n = 0, 0
  for _, x in ipairs(vals) do
    sum = sum + x
    n = n + 1
  end
  return n > 0 and sum / n or nil
end
result(mean(column("distance")) or "No data found")
`
	verdict := v.CheckData(code)
	assert.True(t, verdict.Accepted, verdict.Reason)
}

func TestCodeDefinedGlobalsAreAllowed(t *testing.T) {
	v := New(testSchema())

	code := `
function total(name)
  local vals = column(name)
  local sum = 0
  for i = 1, row_count() do
    sum = sum + (vals[i] or 0)
  end
  return sum
end
result(total("distance"))
`
	verdict := v.CheckData(code)
	assert.True(t, verdict.Accepted, verdict.Reason)
}

func TestBranchSeparation(t *testing.T) {
	v := New(testSchema())

	verdict := v.CheckData(`chart.render({kind = "line", x = {1}, y = {2}})`)
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, "chart")

	verdict = v.CheckChart(`result(42)`)
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, "result")

	verdict = v.CheckChart(`
local x = column("distance")
local y = column("pace")
chart.render({kind = "scatter", title = "Pace vs distance", x = x, y = y})
`)
	assert.True(t, verdict.Accepted, verdict.Reason)
}

func TestDynamicColumnArgLeftToExecutor(t *testing.T) {
	v := New(testSchema())

	code := `
local name = "pa" .. "ce"
result(column(name)[1])
`
	verdict := v.CheckData(code)
	assert.True(t, verdict.Accepted, verdict.Reason)
}
