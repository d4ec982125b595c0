// Package transport moves bytes between the simulator and the panel.
//
// Stream receives the export stream over UDP multicast, TCP, a Unix socket
// or a serial line and hands it on as byte chunks. It never interprets the
// bytes; framing belongs to the exportstream parser.
//
// CommandWriter sends input commands as "NAME ARG\n" lines, either on a
// dedicated connection from DialCommands or back over a writable Stream.
package transport
