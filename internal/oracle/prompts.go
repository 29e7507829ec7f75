package oracle

import (
	"fmt"
	"regexp"
	"strings"
)

// hostAPIDoc documents the sandbox environment generated code runs in. It
// must stay in sync with the host functions the sandbox registers.
const hostAPIDoc = `The code runs in a sandboxed Lua 5.1 environment. There is no os, io,
require, load, or print. Available libraries: string, table, math, and the
base functions (pairs, ipairs, type, tostring, tonumber, select, error,
assert, pcall, unpack, next).

Dataset access:
- row_count() returns the number of rows.
- column(name) returns a 1-based array of a column's values. Numeric columns
  yield numbers, with nil for missing values; other columns yield strings,
  with "" for missing values. Iterate with "for i = 1, row_count() do" so nil
  holes are not skipped.
- rows() returns a 1-based array of row tables keyed by column name, typed
  the same way.
- log(message) records a diagnostic message.`

const dataAPIDoc = `Reporting the answer:
- result(value) must be called exactly once with the final answer. The value
  must be a number, a string, or a flat table of numbers/strings.`

const chartAPIDoc = `Rendering the chart:
- chart.render(spec) must be called exactly once. spec is a table with:
    kind   = "line" | "bar" | "scatter" | "histogram"  (required)
    title  = chart title (string)
    xlabel = x-axis label (string)
    ylabel = y-axis label (string)
    x      = array of x values (numbers, or datetime strings for time axes)
    y      = array of y values (numbers; not used for histogram)
    labels = array of category labels (bar charts only, instead of x)
    bins   = number of buckets (histograms only, default 20)
  Skip rows whose values are nil before building x and y, and keep the two
  arrays the same length.`

func classifyPrompt(query string) string {
	return fmt.Sprintf(`You are a data analysis expert. You are given a user query about a personal
running dataset. Decide whether the query asks for a chart, a computed data
answer, or both. Assume the user wants data unless they explicitly ask for a
chart/graph/visualization of any kind.

User query: %s

Return only one word: "chart", "data", or "both".`, query)
}

func enhancePrompt(query, schema, sample string, wantsChart bool) string {
	next := "compute a data answer"
	if wantsChart {
		next = "render a chart"
	}
	return fmt.Sprintf(`You are a data analysis expert. Rewrite the user query into a precise,
unambiguous instruction for a code generation step that will %s.

The dataset has these columns:
%s
First rows:
%s
Name the exact columns to use, the operations to perform, and the expected
output shape (and for charts, what the axes should be). Only reference
columns that exist in the dataset.

User query: %s

Return only the enhanced query, be concise not conversational.`, next, schema, sample, query)
}

func generatePrompt(req GenerateRequest) string {
	var b strings.Builder

	switch req.Kind {
	case ChartCode:
		b.WriteString("You are a data analysis expert. Generate Lua code that renders a chart answering the user query. DO NOT call result().\n\n")
	default:
		b.WriteString("You are a data analysis expert. Generate Lua code that computes the answer to the user query. DO NOT render any chart.\n\n")
	}

	fmt.Fprintf(&b, "The dataset has these columns:\n%s\nFirst rows:\n%s\n", req.Schema, req.Sample)
	b.WriteString(hostAPIDoc)
	b.WriteString("\n\n")
	if req.Kind == ChartCode {
		b.WriteString(chartAPIDoc)
	} else {
		b.WriteString(dataAPIDoc)
	}
	b.WriteString("\n\n")

	b.WriteString(`Be aware there may be missing values in the dataset (especially heartrate
columns). Handle nil and empty values appropriately. If no rows match the
query, report "No data found".

If the query is about one specific activity, include that activity's id in
the reported answer.

`)
	fmt.Fprintf(&b, "User query: %s\n", req.Query)

	if req.PriorCode != "" {
		fmt.Fprintf(&b, `
Your previous attempt was rejected.

Previous code:
%s

Rejection reason: %s

Fix the problem and return the corrected code.
`, req.PriorCode, req.PriorFeedback)
	}

	b.WriteString("\nRETURN ONLY THE CODE OR ELSE IT WILL FAIL.")
	return b.String()
}

func synthesizePrompt(req SynthesizeRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a helpful assistant answering a question about the user's running
data. The dataset has these columns:
%s
Generate a response to the user query based on the analysis output below.
Respond in Markdown. Return only the response, be concise and to the point,
not conversational.
If an activity id appears in the output, link it like
https://www.strava.com/activities/IDNUMBER

User query: %s
`, req.Schema, req.Query)

	if req.DataOutput != "" {
		fmt.Fprintf(&b, "\nAnalysis output:\n%s\n", req.DataOutput)
	}
	if req.DataError != "" {
		fmt.Fprintf(&b, "\nThe data analysis step failed: %s\nAcknowledge the missing piece briefly.\n", req.DataError)
	}
	if req.ChartDone {
		b.WriteString("\nA chart was rendered for this query; mention that it is attached.\n")
	}
	if req.ChartError != "" {
		fmt.Fprintf(&b, "\nThe chart step failed: %s\nAcknowledge the missing chart briefly.\n", req.ChartError)
	}

	return b.String()
}

var (
	fenceOpen  = regexp.MustCompile("^(\\s|`)*(?i:lua)?\\s*")
	fenceClose = regexp.MustCompile("(\\s|`)*$")
)

// StripCodeFence removes a surrounding markdown code fence, which models
// emit despite being told not to.
func StripCodeFence(code string) string {
	code = fenceOpen.ReplaceAllString(code, "")
	return fenceClose.ReplaceAllString(code, "")
}
