/*
Package metrics holds burrow's Prometheus collectors and health reporting.

All collectors are package globals registered on the default registry at
init and served by Handler on /metrics:

	burrow_workloads_total{state}              gauge, refreshed by Collector
	burrow_actions_total{action,result}        executor outcomes
	burrow_action_duration_seconds{action}
	burrow_daemon_calls_total{op,result}       every Runtime call
	burrow_daemon_call_duration_seconds{op}
	burrow_lock_rejections_total{reason}       busy, cooldown, inconsistent
	burrow_reconciliation_*                    cycles, duration, re-issues, exhausted
	burrow_logpoll_duration_seconds
	burrow_log_lines_total{outcome}            stored, stale, duplicate, unparsable
	burrow_queue_depth, burrow_queue_jobs_total{kind,result}
	burrow_api_requests_total{method,status}, burrow_api_request_duration_seconds{method}

Timer wraps the usual start/observe pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActionDuration, "start")

# Health

Components report through RegisterComponent and UpdateComponent, or
register a ProbeFunc that the Collector runs on every tick. A failing
critical component makes /ready answer 503; any failing component makes
/health answer 503. /live only reports that the process is up.
*/
package metrics
