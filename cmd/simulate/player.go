package main

import (
	"sync"

	"hls-cmcd/internal/cmcd"
)

// scriptedPlayer is a deterministic stand-in for a media player. It keeps a
// single contiguous buffered range per media kind starting at zero.
type scriptedPlayer struct {
	mu sync.Mutex

	segmentDuration float64
	bandwidth       float64
	currentTime     float64
	bufferedEnd     map[string]float64
	tracks          []cmcd.Track
}

func newScriptedPlayer(segmentDuration, bandwidth float64) *scriptedPlayer {
	return &scriptedPlayer{
		segmentDuration: segmentDuration,
		bandwidth:       bandwidth,
		bufferedEnd: map[string]float64{
			cmcd.MediaKindVideo: 0,
			cmcd.MediaKindAudio: 0,
		},
		tracks: []cmcd.Track{
			{Type: cmcd.TrackTypeVariant, Bandwidth: 928_000, VideoBandwidth: 800_000, AudioBandwidth: 128_000},
			{Type: cmcd.TrackTypeVariant, Bandwidth: 2_628_000, VideoBandwidth: 2_500_000, AudioBandwidth: 128_000},
			{Type: cmcd.TrackTypeVariant, Bandwidth: 5_128_000, VideoBandwidth: 5_000_000, AudioBandwidth: 128_000},
		},
	}
}

func (p *scriptedPlayer) BandwidthEstimate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bandwidth
}

func (p *scriptedPlayer) BufferedInfo() cmcd.BufferedInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := cmcd.BufferedInfo{}
	for kind, end := range p.bufferedEnd {
		if end > 0 {
			info[kind] = []cmcd.BufferedRange{{Start: 0, End: end}}
		} else {
			info[kind] = nil
		}
	}
	return info
}

func (p *scriptedPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}

func (p *scriptedPlayer) PlaybackRate() float64 { return 1 }

func (p *scriptedPlayer) VariantTracks() []cmcd.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]cmcd.Track(nil), p.tracks...)
}

func (p *scriptedPlayer) IsLive() bool { return false }

// segment returns the request context for media segment n of kind.
func (p *scriptedPlayer) segment(kind string, n int) *cmcd.RequestContext {
	start := float64(n) * p.segmentDuration
	stream := &cmcd.Stream{Type: kind, Codecs: "avc1.64001f", Bandwidth: 2_500_000}
	if kind == cmcd.MediaKindAudio {
		stream = &cmcd.Stream{Type: kind, Codecs: "mp4a.40.2", Bandwidth: 128_000}
	}
	return &cmcd.RequestContext{
		Type:    cmcd.AdvancedRequestTypeMediaSegment,
		Segment: &cmcd.Segment{StartTime: start, EndTime: start + p.segmentDuration},
		Stream:  stream,
	}
}

// buffered appends one segment of kind to the buffer.
func (p *scriptedPlayer) buffered(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufferedEnd[kind] += p.segmentDuration
}

// play advances the playhead by d seconds, stopping at the end of the
// shortest buffer. It reports whether the playhead caught up with it.
func (p *scriptedPlayer) play(d float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := -1.0
	for _, end := range p.bufferedEnd {
		if limit < 0 || end < limit {
			limit = end
		}
	}
	p.currentTime += d
	if p.currentTime >= limit {
		p.currentTime = limit
		return true
	}
	return false
}

// drain discards buffered data ahead of the playhead, as a network drop
// would let the buffer run out.
func (p *scriptedPlayer) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind := range p.bufferedEnd {
		p.bufferedEnd[kind] = p.currentTime
	}
}

func (p *scriptedPlayer) setBandwidth(bps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bandwidth = bps
}
