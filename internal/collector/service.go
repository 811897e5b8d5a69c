package collector

import (
	"errors"

	"hls-cmcd/internal/cmcd"
)

// ErrMissingSession is returned for payloads without a session id.
var ErrMissingSession = errors.New("cmcd payload has no session id")

// DefaultRecentReports is the number of reports included in a summary.
const DefaultRecentReports = 10

// Service turns decoded CMCD payloads into reports and summarizes sessions.
type Service struct {
	repo   Repository
	recent int
}

// NewService returns a Service that uses repo and includes at most recent
// reports in summaries. If recent <= 0, DefaultRecentReports is used.
func NewService(repo Repository, recent int) *Service {
	if recent <= 0 {
		recent = DefaultRecentReports
	}
	return &Service{repo: repo, recent: recent}
}

// Ingest records data received for path. It returns the report it built.
func (s *Service) Ingest(data cmcd.Data, path string) (SessionID, Report, error) {
	sid, _ := data[cmcd.KeySessionID].(string)
	if sid == "" {
		return "", Report{}, ErrMissingSession
	}

	rep := reportFromData(data, path)
	meta := SessionMeta{}
	meta.ContentID, _ = data[cmcd.KeyContentID].(string)
	meta.StreamingFormat, _ = data[cmcd.KeyStreamingFormat].(cmcd.StreamingFormat)
	meta.StreamType, _ = data[cmcd.KeyStreamType].(cmcd.StreamType)

	if err := s.repo.RecordReport(SessionID(sid), meta, rep); err != nil {
		return "", Report{}, err
	}
	return SessionID(sid), rep, nil
}

// Summary returns the summary of a session.
func (s *Service) Summary(id SessionID) (SessionSummary, bool) {
	state, ok := s.repo.GetSessionSnapshot(id)
	if !ok {
		return SessionSummary{}, false
	}

	sum := SessionSummary{
		ID:              state.ID,
		ContentID:       state.Meta.ContentID,
		StreamingFormat: state.Meta.StreamingFormat,
		StreamType:      state.Meta.StreamType,
		TotalReports:    state.TotalReports,
		Stalls:          state.Stalls,
		StartupRequests: state.StartupRequests,
		Ended:           state.Ended,
		LastSeen:        state.LastSeen,
		Recent:          recentReports(state.Reports, s.recent),
	}
	sum.AverageBufferLengthMs = averageBufferLength(state.Reports)
	for i := len(state.Reports) - 1; i >= 0; i-- {
		if tp := state.Reports[i].Throughput; tp != nil {
			v := *tp
			sum.LastThroughputKbps = &v
			break
		}
	}
	return sum, true
}

// EndSession marks the session as ended; new reports will be rejected.
func (s *Service) EndSession(id SessionID) error {
	return s.repo.EndSession(id)
}

// Prune drops sessions idle past the repository's timeout and returns how
// many were removed.
func (s *Service) Prune() int {
	return s.repo.Prune()
}

// ActiveSessionCount returns the number of sessions not ended.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

func reportFromData(data cmcd.Data, path string) Report {
	rep := Report{Path: path}
	rep.ObjectType, _ = data[cmcd.KeyObjectType].(cmcd.ObjectType)
	rep.BufferLength = number(data, cmcd.KeyBufferLength)
	rep.Throughput = number(data, cmcd.KeyMeasuredThroughput)
	rep.Bitrate = number(data, cmcd.KeyBitrate)
	rep.BufferStarvation, _ = data[cmcd.KeyBufferStarvation].(bool)
	rep.Startup, _ = data[cmcd.KeyStartup].(bool)
	return rep
}

func number(data cmcd.Data, key string) *float64 {
	if v, ok := data[key].(float64); ok {
		return &v
	}
	return nil
}

// recentReports returns the last n reports, newest last.
func recentReports(reports []Report, n int) []Report {
	if len(reports) > n {
		reports = reports[len(reports)-n:]
	}
	return append([]Report{}, reports...)
}

// averageBufferLength averages the buffer length over reports that carry
// one. It returns nil when none do.
func averageBufferLength(reports []Report) *float64 {
	var sum float64
	var n int
	for _, rep := range reports {
		if rep.BufferLength != nil {
			sum += *rep.BufferLength
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
