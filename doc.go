// Package simbroker provides the job broker for long-running numerical
// simulations.
//
// Browser clients and simulation workers both connect to the broker with
// websockets and keep the connection active. A client submits a simulation
// job; the broker queues it, binds it to an idle worker and instructs that
// worker to start. Status, log and trace frames streamed by the worker are
// fanned out to every client connection of the job's owner. Requests that
// only the live worker can answer (the in-memory log or trace of a job that
// has not been archived yet) are relayed by correlation id; anything else is
// answered from the external archive.
//
// When a worker connection is lost while its job is executing, the job is
// reported as failed. Streamed frames lost at the transport layer are not
// replayed.
package simbroker
