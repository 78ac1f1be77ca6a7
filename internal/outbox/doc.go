// Package outbox is the durable FIFO of local writes awaiting remote
// confirmation.
//
// Keys are assigned by SQLite AUTOINCREMENT, so they are strictly ascending
// and never reused, even after the queue is emptied. Replay order is key
// order. A mutation is only removed by key, which lets a push delete exactly
// what it sent while writers keep appending.
package outbox
