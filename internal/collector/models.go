package collector

import (
	"time"

	"hls-cmcd/internal/cmcd"
)

// SessionID identifies a playback session (the CMCD "sid" key).
type SessionID string

// Report is a single CMCD payload received from a player.
type Report struct {
	Path             string          `json:"path"`
	ObjectType       cmcd.ObjectType `json:"object_type,omitempty"`
	BufferLength     *float64        `json:"buffer_length_ms,omitempty"`
	Throughput       *float64        `json:"measured_throughput_kbps,omitempty"`
	Bitrate          *float64        `json:"bitrate_kbps,omitempty"`
	BufferStarvation bool            `json:"buffer_starvation"`
	Startup          bool            `json:"startup"`

	// Set by the repository when the report is recorded.
	ReceivedAt time.Time `json:"received_at"`
}

// SessionMeta holds the session-scoped keys of a payload. Empty fields do not
// overwrite what is already known.
type SessionMeta struct {
	ContentID       string
	StreamingFormat cmcd.StreamingFormat
	StreamType      cmcd.StreamType
}

// SessionState is the in-memory state of one session.
type SessionState struct {
	ID   SessionID
	Meta SessionMeta

	// Reports holds the most recent reports, oldest first.
	Reports         []Report
	TotalReports    int64
	Stalls          int64
	StartupRequests int64
	Ended           bool

	// LastSeen is the time of the last recorded report or of EndSession.
	LastSeen time.Time
}

// SessionSummary is the JSON view of a session.
type SessionSummary struct {
	ID                    SessionID            `json:"sid"`
	ContentID             string               `json:"cid,omitempty"`
	StreamingFormat       cmcd.StreamingFormat `json:"sf,omitempty"`
	StreamType            cmcd.StreamType      `json:"st,omitempty"`
	TotalReports          int64                `json:"total_reports"`
	Stalls                int64                `json:"stalls"`
	StartupRequests       int64                `json:"startup_requests"`
	AverageBufferLengthMs *float64             `json:"average_buffer_length_ms,omitempty"`
	LastThroughputKbps    *float64             `json:"last_throughput_kbps,omitempty"`
	Ended                 bool                 `json:"ended"`
	LastSeen              time.Time            `json:"last_seen"`
	Recent                []Report             `json:"recent"`
}
