// Package connectivity turns reachability changes into sync cycles.
//
// A Monitor owns one event loop. SetOnline feeds it edge-triggered
// transitions; going online starts a full sync, going offline does not.
// Observers registered with Subscribe see every state change and the outcome
// of every cycle.
//
// A Prober polls the remote's health endpoint and feeds SetOnline, for
// environments without a platform connectivity signal.
package connectivity
