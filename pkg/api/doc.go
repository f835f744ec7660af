/*
Package api serves the collaborator HTTP surface of burrow.

Collaborators create workloads and request lifecycle actions over JSON.
Actions are accepted, stored and queued; the executor runs them later, so
a 202 only means the request was admitted:

	POST /v1/workloads                 create a workload in state "initial"
	GET  /v1/workloads[?tenant=]       list workloads
	GET  /v1/workloads/{id}            read one workload
	POST /v1/workloads/{id}/actions    request an action (optional delay)
	GET  /v1/workloads/{id}/actions    list requested actions
	GET  /v1/workloads/{id}/logs       ordered history (optional ?source=)

An action that is illegal from the workload's current state is refused
with 409 before it is queued. Every error body is {"error": "..."}.

The same listener answers /health, /ready, /live and /metrics.
*/
package api
