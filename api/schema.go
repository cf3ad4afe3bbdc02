package api

// Storage backends an OSD can be formatted with.
const (
	FormatBluestore = "bluestore"
	FormatFilestore = "filestore"
)

// PingSummary aggregates ping results for a set of hosts.
type PingSummary struct {
	// Succeeded counts hosts that answered.
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	// Failed, Errored and Slow are space-separated host lists.
	Failed  string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Errored string `json:"errored,omitempty" yaml:"errored,omitempty"`
	Slow    string `json:"slow,omitempty" yaml:"slow,omitempty"`
	// Avg is the mean of the per-host average round trip times, in ms.
	Avg float64 `json:"avg" yaml:"avg"`
}

// IperfSummary is the result of one iperf3 client run.
type IperfSummary struct {
	Server    string `json:"server" yaml:"server"`
	Succeeded bool   `json:"succeeded" yaml:"succeeded"`
	Failed    bool   `json:"failed" yaml:"failed"`
	Errored   bool   `json:"errored" yaml:"errored"`
	// Speed is the raw iperf3 output; Filter the receiver bandwidth.
	Speed  string `json:"speed,omitempty" yaml:"speed,omitempty"`
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}
