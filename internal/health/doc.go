// Package health keeps established sessions alive and honest. It runs three
// timers per session (presence heartbeat, live-state watchdog, page activity
// simulation) plus one process-wide keepalive messenger that sends real
// traffic to an operator address at randomized intervals.
package health
