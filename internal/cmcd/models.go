package cmcd

// Version is the CMCD protocol version emitted in the "v" key.
const Version = 1

// QueryParam is the reserved query parameter carrying CMCD in query mode.
const QueryParam = "CMCD"

// HeaderPrefix prefixes the four CMCD header names.
const HeaderPrefix = "CMCD-"

// CMCD keys used by this package.
const (
	KeyBitrate             = "br"
	KeyBufferLength        = "bl"
	KeyBufferStarvation    = "bs"
	KeyContentID           = "cid"
	KeyDeadline            = "dl"
	KeyDuration            = "d"
	KeyMeasuredThroughput  = "mtp"
	KeyNextObjectRequest   = "nor"
	KeyNextRangeRequest    = "nrr"
	KeyObjectType          = "ot"
	KeyPlaybackRate        = "pr"
	KeyRequestedThroughput = "rtp"
	KeySessionID           = "sid"
	KeyStartup             = "su"
	KeyStreamingFormat     = "sf"
	KeyStreamType          = "st"
	KeyTopBitrate          = "tb"
	KeyVersion             = "v"
)

// ObjectType is the media type of the object being requested ("ot").
type ObjectType string

const (
	ObjectTypeManifest  ObjectType = "m"
	ObjectTypeAudio     ObjectType = "a"
	ObjectTypeVideo     ObjectType = "v"
	ObjectTypeMuxed     ObjectType = "av"
	ObjectTypeInit      ObjectType = "i"
	ObjectTypeCaption   ObjectType = "c"
	ObjectTypeTimedText ObjectType = "tt"
	ObjectTypeKey       ObjectType = "k"
	ObjectTypeOther     ObjectType = "o"
)

// IsMedia reports whether the object carries media samples.
func (t ObjectType) IsMedia() bool {
	switch t {
	case ObjectTypeVideo, ObjectTypeAudio, ObjectTypeMuxed, ObjectTypeTimedText:
		return true
	}
	return false
}

// StreamingFormat is the streaming format of the session ("sf").
type StreamingFormat string

const (
	StreamingFormatDASH   StreamingFormat = "d"
	StreamingFormatHLS    StreamingFormat = "h"
	StreamingFormatSmooth StreamingFormat = "s"
)

// StreamType distinguishes live from on-demand content ("st").
type StreamType string

const (
	StreamTypeLive StreamType = "l"
	StreamTypeVOD  StreamType = "v"
)

// Data is a CMCD field map. Values are bool, float64, string or one of the
// token types above. A key that is not present is not sent.
type Data map[string]any

// setNumber stores v under key when ok is true.
func (d Data) setNumber(key string, v float64, ok bool) {
	if ok {
		d[key] = v
	}
}

// RequestType classifies a request made by the streaming pipeline.
type RequestType int

const (
	RequestTypeManifest RequestType = iota
	RequestTypeSegment
	RequestTypeLicense
	RequestTypeApp
	RequestTypeTiming
	RequestTypeServerCertificate
	RequestTypeKey
	RequestTypeAds
	RequestTypeContentSteering
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeManifest:
		return "manifest"
	case RequestTypeSegment:
		return "segment"
	case RequestTypeLicense:
		return "license"
	case RequestTypeApp:
		return "app"
	case RequestTypeTiming:
		return "timing"
	case RequestTypeServerCertificate:
		return "server_certificate"
	case RequestTypeKey:
		return "key"
	case RequestTypeAds:
		return "ads"
	case RequestTypeContentSteering:
		return "content_steering"
	default:
		return "unknown"
	}
}

// AdvancedRequestType refines a RequestType with what is being fetched.
type AdvancedRequestType int

const (
	AdvancedRequestTypeNone AdvancedRequestType = iota
	AdvancedRequestTypeInitSegment
	AdvancedRequestTypeMediaSegment
	AdvancedRequestTypeMediaPlaylist
	AdvancedRequestTypeMasterPlaylist
	AdvancedRequestTypeMPD
	AdvancedRequestTypeMSS
)

// Media kinds reported by Stream.Type and used as BufferedInfo keys.
const (
	MediaKindVideo = "video"
	MediaKindAudio = "audio"
	MediaKindText  = "text"
)

// Request is an outgoing network request the dispatcher may decorate.
type Request struct {
	Method  string
	URIs    []string
	Headers map[string]string
}

// Segment carries the presentation times of a media segment, in seconds.
type Segment struct {
	StartTime float64
	EndTime   float64
}

// Stream describes the stream a segment request belongs to.
type Stream struct {
	Type      string
	Codecs    string
	MimeType  string
	Bandwidth float64
}

// RequestContext is optional information about a request.
type RequestContext struct {
	Type    AdvancedRequestType
	Segment *Segment
	Stream  *Stream
}

// BufferedRange is a contiguous buffered region, in seconds.
type BufferedRange struct {
	Start float64
	End   float64
}

// BufferedInfo maps a media kind to its buffered ranges.
type BufferedInfo map[string][]BufferedRange

// Track is a selectable track as reported by the player.
type Track struct {
	Type           string
	Bandwidth      float64
	VideoBandwidth float64
	AudioBandwidth float64
}

// TrackTypeVariant marks a track combining video and audio renditions.
const TrackTypeVariant = "variant"

// Player exposes the playback telemetry CMCD is derived from.
type Player interface {
	// BandwidthEstimate returns the estimated bandwidth in bits per second.
	BandwidthEstimate() float64
	BufferedInfo() BufferedInfo
	// CurrentTime returns the playback position in seconds.
	CurrentTime() float64
	PlaybackRate() float64
	VariantTracks() []Track
	IsLive() bool
}

// Config controls CMCD emission.
type Config struct {
	Enabled    bool   `env:"CMCD_ENABLED" envDefault:"false"`
	UseHeaders bool   `env:"CMCD_USE_HEADERS" envDefault:"false"`
	SessionID  string `env:"CMCD_SESSION_ID"`
	ContentID  string `env:"CMCD_CONTENT_ID"`
}
