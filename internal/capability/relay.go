package capability

import (
	"golang.org/x/text/encoding/unicode"

	"ipcrelay/internal/protocol"
	"ipcrelay/internal/session"
)

// Relay echoes stdin chunks to stdout and recognises the exit
// sentinel.
type Relay struct{}

// Chunk handles one stdin chunk.  Each chunk is decoded on its own, so
// a multi-byte character split across reads becomes U+FFFD on both
// sides.
func (r *Relay) Chunk(sess *session.Session, chunk []byte) Outcome {
	sess.Metrics.ChunkReceived(len(chunk))

	text, err := unicode.UTF8.NewDecoder().Bytes(chunk)
	if err != nil {
		text = chunk
	}

	if string(text) == protocol.SentinelText {
		return ExitWith(protocol.ExitSentinel, "stdin sentinel")
	}

	if _, err := sess.Stdout.Write(text); err != nil {
		sess.Logger.Verbose("stdin relay: %v", err)
		sess.Metrics.RecordWriteError(err.Error())
		return Continue
	}
	sess.Metrics.StdoutWritten(len(text))
	return Continue
}
