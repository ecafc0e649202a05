package report

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"
)

const (
	lineWidth   = 60
	chartWidth  = 60
	chartHeight = 8
)

// Text renders the report in the fixed-width layout used for console and
// Telegram delivery.
func (r *Report) Text() string {
	heavy := strings.Repeat("=", lineWidth)
	light := strings.Repeat("─", lineWidth)

	var b strings.Builder
	b.WriteString(heavy + "\n")
	b.WriteString("DeFi Monitor Report\n")
	b.WriteString(heavy + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Window:    %s\n", r.Window)
	fmt.Fprintf(&b, "Alerts:    %d\n", r.AlertCount)

	for _, m := range r.Metrics {
		b.WriteString("\n" + light + "\n")
		b.WriteString(m.Metric + "\n")
		b.WriteString(light + "\n")
		fmt.Fprintf(&b, "  Latest:      %s\n", formatValue(m.Metric, m.Latest))
		if len(m.Series) > 1 {
			fmt.Fprintf(&b, "  Change:      %+.2f%%\n", m.ChangePct)
			fmt.Fprintf(&b, "  Low / High:  %s / %s\n",
				formatValue(m.Metric, m.Min), formatValue(m.Metric, m.Max))
			b.WriteString("\n" + chart(m.Series, "") + "\n")
		}
	}

	b.WriteString("\n" + heavy + "\n")
	b.WriteString("End of Report\n")
	b.WriteString(heavy + "\n")
	return b.String()
}

func chart(series []float64, caption string) string {
	data := downsample(series, chartWidth)
	opts := []asciigraph.Option{
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
	}
	if caption != "" {
		opts = append(opts, asciigraph.Caption(caption))
	}
	return strings.TrimRight(asciigraph.Plot(data, opts...), "\n")
}

// downsample averages series into buckets so the chart fits width columns.
func downsample(data []float64, width int) []float64 {
	if len(data) <= width {
		return data
	}

	out := make([]float64, width)
	bucket := float64(len(data)) / float64(width)
	for i := 0; i < width; i++ {
		start := int(float64(i) * bucket)
		end := int(float64(i+1) * bucket)
		if end > len(data) {
			end = len(data)
		}
		if start >= end {
			start = end - 1
		}
		var sum float64
		for _, v := range data[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}

// formatValue renders a metric value with the unit implied by the metric ID.
func formatValue(metric string, v float64) string {
	switch {
	case metric == "eth:gas_gwei":
		return fmt.Sprintf("%.2f gwei", v)
	case metric == "eth:block":
		return addCommas(fmt.Sprintf("%.0f", v))
	case strings.HasSuffix(metric, ":apy"):
		return fmt.Sprintf("%.2f%%", v)
	case strings.HasSuffix(metric, ":change24h"):
		return fmt.Sprintf("%+.2f%%", v)
	case strings.HasSuffix(metric, ":spot"):
		return fmt.Sprintf("$%.4f", v)
	case strings.Contains(metric, ":"):
		// tvl, mcap and other USD aggregates
		return "$" + addCommas(fmt.Sprintf("%.0f", v))
	default:
		// bare symbol, spot price in USD
		return fmt.Sprintf("$%.4f", v)
	}
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
