package scheduler

// latencyMatrix is the hard-coded inter-region latency table (symmetric,
// milliseconds) used by locality scoring.
var latencyMatrix = map[string]map[string]int{
	"us-east":      {"us-east": 5, "us-west": 45, "eu-west": 80, "eu-central": 90, "ap-south": 180, "ap-northeast": 150},
	"us-west":      {"us-east": 45, "us-west": 5, "eu-west": 120, "eu-central": 130, "ap-south": 160, "ap-northeast": 100},
	"eu-west":      {"us-east": 80, "us-west": 120, "eu-west": 5, "eu-central": 15, "ap-south": 120, "ap-northeast": 200},
	"eu-central":   {"us-east": 90, "us-west": 130, "eu-west": 15, "eu-central": 5, "ap-south": 100, "ap-northeast": 180},
	"ap-south":     {"us-east": 180, "us-west": 160, "eu-west": 120, "eu-central": 100, "ap-south": 5, "ap-northeast": 80},
	"ap-northeast": {"us-east": 150, "us-west": 100, "eu-west": 200, "eu-central": 180, "ap-south": 80, "ap-northeast": 5},
}

// latency looks up the inter-region latency between from and to. An
// unknown region on either side yields maxLatencyMS.
func latency(from, to string, maxLatencyMS int) int {
	row, ok := latencyMatrix[from]
	if !ok {
		return maxLatencyMS
	}
	ms, ok := row[to]
	if !ok {
		return maxLatencyMS
	}
	return ms
}
