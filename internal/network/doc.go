// Package network carries radar messages over UDP and replays captures.
package network
