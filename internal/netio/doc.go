// Package netio provides the gateway's socket plumbing: the device-facing
// TCP listener, the UDP platform sink, the TCP mirror sink and the UDP
// heartbeat sender.
//
// Sockets are configured with SO_REUSEADDR via golang.org/x/sys/unix so a
// restarted gateway can rebind its ports while old sessions linger in
// TIME_WAIT.
package netio
