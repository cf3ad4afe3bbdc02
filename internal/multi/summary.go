package multi

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agentic-research/pillarctl/api"
)

var (
	rttPattern   = regexp.MustCompile(`(?s)^.*rtt min/avg/max/mdev = \d+\.?\d+/(\d+\.?\d+)/`)
	iperfPattern = regexp.MustCompile(`(?s)^.*0.00-10.00.*sec\s(.*Bytes)\s+(.*Mbits/sec)`)
)

// NoBandwidth is the filter value when the iperf3 output has no receiver
// summary line.
const NoBandwidth = "0 Mbits/sec"

type rtt struct {
	host string
	avg  float64
}

// SummarizePing counts the results by exit code and flags slow hosts. A
// host is slow when more than two hosts reported a round trip time and
// its average exceeds mean * n / 2.
func SummarizePing(results []Result) api.PingSummary {
	var failed, errored, slow []string
	var rtts []rtt
	var summary api.PingSummary
	for _, r := range results {
		switch r.Code {
		case CodeSucceeded:
			summary.Succeeded++
			if m := rttPattern.FindStringSubmatch(r.Stdout); m != nil {
				if avg, err := strconv.ParseFloat(m[1], 64); err == nil {
					rtts = append(rtts, rtt{host: r.Host, avg: avg})
				}
			}
		case CodeFailed:
			failed = append(failed, r.Host)
		case CodeErrored:
			errored = append(errored, r.Host)
		}
	}

	if len(rtts) > 0 {
		var sum float64
		for _, r := range rtts {
			sum += r.avg
		}
		summary.Avg = sum / float64(len(rtts))
		if len(rtts) > 2 {
			limit := summary.Avg * float64(len(rtts)) / 2
			for _, r := range rtts {
				if r.avg > limit {
					slow = append(slow, r.host)
				}
			}
		}
	}

	summary.Failed = strings.Join(failed, " ")
	summary.Errored = strings.Join(errored, " ")
	summary.Slow = strings.Join(slow, " ")
	return summary
}

// SummarizeIperf classifies one iperf3 client run and extracts the
// receiver bandwidth on success.
func SummarizeIperf(r Result) api.IperfSummary {
	s := api.IperfSummary{Server: r.Host}
	switch r.Code {
	case CodeSucceeded:
		s.Succeeded = true
		s.Speed = r.Stdout
		s.Filter = NoBandwidth
		if m := iperfPattern.FindStringSubmatch(r.Stdout); m != nil {
			s.Filter = m[2]
		}
	case CodeFailed:
		s.Failed = true
	case CodeErrored:
		s.Errored = true
	}
	return s
}
