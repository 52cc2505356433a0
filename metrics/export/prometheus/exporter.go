package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source supplies the numbers behind /metrics. *goGuard.Engine is one.
type Source interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter serves the guard's counters and its rate limiter
// latency histogram as a scrape target.
type PrometheusExporter struct {
	source Source
}

func NewPrometheusExporter(engine *goGuard.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

func NewPrometheusExporterFromSource(source Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler answers scrapes. The body is recomputed on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render produces one scrape body. With metrics disabled and nothing
// dropped the body is empty.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var out bytes.Buffer
	out.Grow(64 * (len(internaldefs.CounterDefs) + 12))

	for _, def := range internaldefs.CounterDefs {
		counter(&out, def, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		histogram(&out, def, buckets)
	}
	counter(&out, internaldefs.PublishDropped, dropped)

	return out.String()
}

func header(out *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(out, "# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func counter(out *bytes.Buffer, def internaldefs.CounterDef, v uint64) {
	header(out, def.Name, def.Help, "counter")
	fmt.Fprintf(out, "%s %d\n", def.Name, v)
}

func histogram(out *bytes.Buffer, def internaldefs.HistogramDef, cumulative [8]uint64) {
	header(out, def.Name, def.Help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(out, "%s_bucket{le=%q} %d\n", def.Name, le, cumulative[i])
	}
	// The snapshot keeps no running sum of observations.
	fmt.Fprintf(out, "%s_sum 0\n%s_count %d\n", def.Name, def.Name, cumulative[len(cumulative)-1])
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
