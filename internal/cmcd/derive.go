package cmcd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSegment is returned when a segment's times are not usable.
	ErrInvalidSegment = errors.New("invalid segment times")

	// ErrNoBufferedInfo is returned when the player reports no buffered
	// ranges table for a media kind.
	ErrNoBufferedInfo = errors.New("no buffered info for media kind")

	// ErrInvalidTelemetry is returned when the player reports a non-finite
	// playback position.
	ErrInvalidTelemetry = errors.New("invalid player telemetry")
)

// segmentData builds the segment-specific fields. Caller must hold m.mu.
// An unusable segment only drops "d": the other fields are returned along
// with ErrInvalidSegment.
func (m *Manager) segmentData(ctx *RequestContext) (Data, error) {
	d := Data{KeyStreamType: m.streamType()}

	var segErr error
	if seg := ctx.Segment; seg == nil {
		d[KeyDuration] = 0.0
	} else if !isFinite(seg.StartTime) || !isFinite(seg.EndTime) || seg.EndTime < seg.StartTime {
		segErr = fmt.Errorf("%w: start=%v end=%v", ErrInvalidSegment, seg.StartTime, seg.EndTime)
	} else {
		d[KeyDuration] = (seg.EndTime - seg.StartTime) * 1000
	}

	ot, hasType := objectType(ctx)
	if hasType {
		d[KeyObjectType] = ot
	}
	isMedia := hasType && ot.IsMedia()

	if stream := ctx.Stream; stream != nil {
		if isMedia {
			bl, ok, err := m.bufferLength(stream.Type)
			if err != nil {
				return nil, err
			}
			d.setNumber(KeyBufferLength, bl, ok)
		}
		if stream.Bandwidth > 0 && isFinite(stream.Bandwidth) {
			d[KeyBitrate] = stream.Bandwidth / 1000
		}
	}

	if isMedia && ot != ObjectTypeTimedText {
		tb, ok := m.topBandwidth(ot)
		d.setNumber(KeyTopBitrate, tb/1000, ok)
	}

	return d, segErr
}

// objectType classifies a segment request. An init segment wins over
// anything the stream says.
func objectType(ctx *RequestContext) (ObjectType, bool) {
	if ctx.Type == AdvancedRequestTypeInitSegment {
		return ObjectTypeInit, true
	}

	stream := ctx.Stream
	if stream == nil {
		return "", false
	}

	switch stream.Type {
	case MediaKindVideo:
		if strings.Contains(stream.Codecs, ",") {
			return ObjectTypeMuxed, true
		}
		return ObjectTypeVideo, true
	case MediaKindAudio:
		return ObjectTypeAudio, true
	case MediaKindText:
		if stream.MimeType == "application/mp4" {
			return ObjectTypeTimedText, true
		}
		return ObjectTypeCaption, true
	}
	return "", false
}

// ObjectTypeFromMimeType classifies a directly loaded resource by its MIME
// type. The match is case-insensitive.
func ObjectTypeFromMimeType(mimeType string) (ObjectType, bool) {
	switch strings.ToLower(mimeType) {
	case "video/webm", "video/mp4", "video/mpeg", "video/mp2t":
		return ObjectTypeMuxed, true
	case "application/x-mpegurl", "application/vnd.apple.mpegurl",
		"application/dash+xml", "video/vnd.mpeg.dash.mpd",
		"application/vnd.ms-sstr+xml":
		return ObjectTypeManifest, true
	}
	return "", false
}

func streamFormat(t AdvancedRequestType) (StreamingFormat, bool) {
	switch t {
	case AdvancedRequestTypeMPD:
		return StreamingFormatDASH, true
	case AdvancedRequestTypeMasterPlaylist, AdvancedRequestTypeMediaPlaylist:
		return StreamingFormatHLS, true
	case AdvancedRequestTypeMSS:
		return StreamingFormatSmooth, true
	}
	return "", false
}

func (m *Manager) streamType() StreamType {
	if m.player.IsLive() {
		return StreamTypeLive
	}
	return StreamTypeVOD
}

// bufferLength returns how far ahead of the playhead the range containing
// it is buffered, in milliseconds. ok is false when nothing contains the
// playhead.
func (m *Manager) bufferLength(kind string) (ms float64, ok bool, err error) {
	ranges, found := m.player.BufferedInfo()[kind]
	if !found {
		return 0, false, fmt.Errorf("%w: %q", ErrNoBufferedInfo, kind)
	}
	if len(ranges) == 0 {
		return 0, false, nil
	}

	now := m.player.CurrentTime()
	if !isFinite(now) {
		return 0, false, fmt.Errorf("%w: current time %v", ErrInvalidTelemetry, now)
	}

	for _, r := range ranges {
		if r.Start <= now && r.End >= now {
			return (r.End - now) * 1000, true, nil
		}
	}
	return 0, false, nil
}

// topBandwidth returns the bandwidth, in bits per second, of the highest
// variant for the given object type. ok is false when no variant is known
// or the variant does not report a bandwidth for that type.
func (m *Manager) topBandwidth(ot ObjectType) (bps float64, ok bool) {
	var top *Track
	tracks := m.player.VariantTracks()
	for i := range tracks {
		t := &tracks[i]
		if t.Type != TrackTypeVariant {
			continue
		}
		if top == nil || t.Bandwidth > top.Bandwidth {
			top = t
		}
	}
	if top == nil {
		return 0, false
	}

	switch ot {
	case ObjectTypeVideo:
		return top.VideoBandwidth, top.VideoBandwidth > 0
	case ObjectTypeAudio:
		return top.AudioBandwidth, top.AudioBandwidth > 0
	default:
		return top.Bandwidth, isFinite(top.Bandwidth)
	}
}
