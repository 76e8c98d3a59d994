// Package session manages the long-lived chat-platform connections.
//
// The Registry owns the session map and is the only source of in-process
// truth; each session is driven by a Controller that consumes its handle's
// events through a pure state machine (Transition) and executes the
// resulting effects. Reconnection after transient disconnects is bounded;
// permanent causes (logout, conflict, unpaired, tos-block) are terminal and
// require the owner to re-pair.
package session
