// Package collab is the client side of the WriteRoom realtime collaboration
// protocol. It maintains a resilient websocket connection to a collaboration
// server, runs the readiness handshake, tracks the roster of collaborators,
// and relays application-level broadcast messages between participants.
//
// Document convergence itself is owned by an external synchronization engine
// (see SyncEngine). This package hands the engine a live socket and a seed
// value and otherwise stays out of the merge path.
//
// Logging convention for WriteRoom client components:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - involuntary disconnects and reconnect attempts
//     - abnormal exits
// Error:
//     unrecoverable crash details
// Debug (glog.V(2)):
//     key events for trace debugging with short bracket tags that can be
//     used to filter: [t] transport, [hb] heartbeat, [r] router, [p] presence
package collab
