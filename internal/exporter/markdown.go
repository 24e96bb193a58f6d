package exporter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/report"
)

// Markdown renders rpt as a Markdown document: one heading per endpoint, a
// status-code table, and a fenced block with the sample request/response
// headers. Used for both single-session and cross-session catalog exports.
func Markdown(rpt *report.RouteReport) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rpt.RouteKey)
	fmt.Fprintf(&b, "Session: `%s` · Total logs: %d\n\n", rpt.SessionID, rpt.TotalLogs)

	for _, ep := range rpt.Endpoints {
		fmt.Fprintf(&b, "## %s %s %s\n\n", ep.Method, ep.Host, ep.Path)
		fmt.Fprintf(&b, "Count: %d\n\n", ep.Count)

		writeStatusTable(&b, ep.Statuses)
		writeMimeTable(&b, "Request MIME", ep.Mime.Req)
		writeMimeTable(&b, "Response MIME", ep.Mime.Res)

		if len(ep.QueryKeys) > 0 {
			fmt.Fprintf(&b, "Query keys: `%s`\n\n", strings.Join(ep.QueryKeys, "`, `"))
		}

		if ep.Sample != nil {
			writeSample(&b, ep.Sample)
		}
	}

	return []byte(b.String())
}

func writeStatusTable(b *strings.Builder, statuses map[string]int) {
	if len(statuses) == 0 {
		return
	}
	codes := make([]string, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	b.WriteString("| status | count |\n|---|---|\n")
	for _, code := range codes {
		fmt.Fprintf(b, "| %s | %d |\n", code, statuses[code])
	}
	b.WriteString("\n")
}

func writeMimeTable(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	fmt.Fprintf(b, "%s:\n\n| mime | count |\n|---|---|\n", title)
	for _, kind := range kinds {
		fmt.Fprintf(b, "| %s | %d |\n", kind, counts[kind])
	}
	b.WriteString("\n")
}

func writeSample(b *strings.Builder, sample *logrecord.LogRecord) {
	b.WriteString("Sample request headers:\n\n```\n")
	writeHeaderLines(b, sample.Request.Headers)
	b.WriteString("```\n\n")

	if sample.Response != nil {
		b.WriteString("Sample response headers:\n\n```\n")
		writeHeaderLines(b, sample.Response.Headers)
		b.WriteString("```\n\n")
	}
}

func writeHeaderLines(b *strings.Builder, headers map[string]string) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "%s: %s\n", name, headers[name])
	}
}
