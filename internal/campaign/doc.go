// Package campaign implements bulk outbound delivery: a scheduler that
// turns a recipient filter into a paced message queue, a dispatch loop that
// drains due items through ready sessions, and the lifecycle API
// (start/pause/resume/cancel/stats) on top of both.
//
// Pacing is the point. Messages get randomized inter-send gaps, batch
// pauses, daily caps and quiet hours so a campaign's traffic resembles a
// person working through a list, not a script.
package campaign
