package gobtcmini

import (
	"expvar"
	"strconv"
)

var (
	appResponseCounts      = expvar.NewMap("app_http_responses_total")
	externalResponseCounts = expvar.NewMap("external_http_responses_total")
	fetchAttemptCounts     = expvar.NewMap("fetch_attempts_total")
	rateLimitTriggers      = expvar.NewInt("rate_limit_triggers_total")
	resolutionOutcomes     = expvar.NewMap("resolutions_total")
	watchlistSize          = expvar.NewInt("watchlist_entries")
	analyticsEvents        = expvar.NewMap("analytics_events_total")
)

func incrementResponseCount(counter *expvar.Map, code int) {
	if counter == nil {
		return
	}
	counter.Add(strconv.Itoa(code), 1)
}

func recordFetchAttempt(kind ErrorKind) {
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	fetchAttemptCounts.Add(label, 1)
}

func recordResolution(risk RiskLevel) {
	resolutionOutcomes.Add(string(risk), 1)
}
