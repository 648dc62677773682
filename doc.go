// Package luna is the embeddable library boundary for LUNA, a
// latency-measurement tool for IP datagram networks. Client emits
// absolutely-scheduled, kernel-timestamped datagrams; Server receives
// them and optionally echoes each one back. See cmd/luna-client and
// cmd/luna-server for the command-line front ends built on top of
// this package.
package luna
