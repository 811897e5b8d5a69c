package cmcd

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"

	"hls-cmcd/internal/platform/metrics"

	"github.com/google/uuid"
)

// Error categories. Each is logged at most once per Manager.
const (
	CategoryRequest   = "request"
	CategoryManifest  = "manifest"
	CategorySegment   = "segment"
	CategoryText      = "text"
	CategorySrc       = "src"
	CategoryTextTrack = "text_track"
)

// Delivery modes, as reported to metrics.
const (
	modeHeaders = "headers"
	modeQuery   = "query"
)

// ErrPlayerPanic wraps a panic raised by the Player while deriving fields.
var ErrPlayerPanic = errors.New("player panicked")

// ErrorHandler receives derivation failures. It is called with the
// Manager's lock held and must not call back into the Manager.
type ErrorHandler func(category string, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for derivation warnings.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics records dispatcher activity in met.
func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithErrorHandler registers h for every derivation failure, in addition to
// the once-per-category warning log.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Manager) { m.onError = h }
}

// WithSessionIDGenerator replaces the random UUID used when the
// configuration carries no session id.
func WithSessionIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newSessionID = gen }
}

// Manager holds CMCD session state for one playback session and decorates
// outgoing requests with CMCD data. It is safe for concurrent use; every
// call is an atomic read-modify-write of the session state.
type Manager struct {
	mu sync.Mutex

	player       Player
	config       Config
	log          *slog.Logger
	metrics      *metrics.Metrics
	onError      ErrorHandler
	newSessionID func() string

	sid             string
	sf              StreamingFormat
	playbackStarted bool
	buffering       bool
	starved         bool
	warned          map[string]struct{}
}

// NewManager returns a Manager reading telemetry from player.
func NewManager(player Player, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		player:       player,
		config:       cfg,
		log:          slog.New(slog.DiscardHandler),
		newSessionID: func() string { return uuid.New().String() },
		buffering:    true,
		warned:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure replaces the active configuration. An already generated session
// id is kept.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
}

// SessionID returns the session id, or "" if no data has been emitted yet.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// SetBuffering records the player's buffering state. The first transition
// out of buffering marks playback as started; buffering after that marks the
// session as starved until the next video or muxed request reports it.
func (m *Manager) SetBuffering(buffering bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !buffering && !m.playbackStarted {
		m.playbackStarted = true
	}

	if m.playbackStarted && buffering {
		if !m.starved && m.metrics != nil {
			m.metrics.IncStalls()
		}
		m.starved = true
	}

	m.buffering = buffering
}

// ApplyData decorates req according to its type. ctx may be nil. Failures
// never propagate: the request is left as it was.
func (m *Manager) ApplyData(t RequestType, req *Request, ctx *RequestContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return
	}
	if ctx == nil {
		ctx = &RequestContext{}
	}

	if strings.EqualFold(req.Method, http.MethodHead) {
		m.guard(CategoryRequest, func() error {
			m.apply(req, Data{})
			return nil
		})
		return
	}

	switch t {
	case RequestTypeManifest:
		m.applyManifest(req, ctx)
	case RequestTypeSegment:
		m.applySegment(req, ctx)
	case RequestTypeLicense, RequestTypeServerCertificate, RequestTypeKey:
		m.guard(CategoryRequest, func() error {
			m.apply(req, Data{KeyObjectType: ObjectTypeKey})
			return nil
		})
	case RequestTypeTiming:
		m.guard(CategoryRequest, func() error {
			m.apply(req, Data{KeyObjectType: ObjectTypeOther})
			return nil
		})
	}
}

// ApplyManifestData decorates a manifest request.
func (m *Manager) ApplyManifestData(req *Request, ctx *RequestContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return
	}
	if ctx == nil {
		ctx = &RequestContext{}
	}
	m.applyManifest(req, ctx)
}

// ApplySegmentData decorates a segment request.
func (m *Manager) ApplySegmentData(req *Request, ctx *RequestContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return
	}
	if ctx == nil {
		ctx = &RequestContext{}
	}
	m.applySegment(req, ctx)
}

// ApplyTextData decorates a request for an out-of-band caption track.
func (m *Manager) ApplyTextData(req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return
	}
	m.guard(CategoryText, func() error {
		m.apply(req, Data{KeyObjectType: ObjectTypeCaption, KeyStartup: true})
		return nil
	})
}

// AppendSrcData returns uri with CMCD appended, for media loaded directly
// from a URI rather than through the request pipeline.
func (m *Manager) AppendSrcData(uri, mimeType string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return uri
	}
	out := uri
	m.guard(CategorySrc, func() error {
		d := m.baseline()
		if ot, ok := ObjectTypeFromMimeType(mimeType); ok {
			d[KeyObjectType] = ot
		}
		d[KeyStartup] = true
		out = AppendQueryToURI(uri, ToQuery(d))
		return nil
	})
	return out
}

// AppendTextTrackData returns uri with CMCD appended, for side-loaded text
// tracks.
func (m *Manager) AppendTextTrackData(uri string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return uri
	}
	out := uri
	m.guard(CategoryTextTrack, func() error {
		d := m.baseline()
		d[KeyObjectType] = ObjectTypeCaption
		d[KeyStartup] = true
		out = AppendQueryToURI(uri, ToQuery(d))
		return nil
	})
	return out
}

func (m *Manager) applyManifest(req *Request, ctx *RequestContext) {
	m.guard(CategoryManifest, func() error {
		if sf, ok := streamFormat(ctx.Type); ok {
			m.sf = sf
		}
		m.apply(req, Data{
			KeyObjectType: ObjectTypeManifest,
			KeyStartup:    !m.playbackStarted,
		})
		return nil
	})
}

func (m *Manager) applySegment(req *Request, ctx *RequestContext) {
	m.guard(CategorySegment, func() error {
		d, err := m.segmentData(ctx)
		if d != nil {
			m.apply(req, d)
		}
		return err
	})
}

// baseline returns the fields sent with every request, generating the
// session id on first use. Caller must hold m.mu.
func (m *Manager) baseline() Data {
	if m.sid == "" {
		if m.config.SessionID != "" {
			m.sid = m.config.SessionID
		} else {
			m.sid = m.newSessionID()
		}
	}

	d := Data{
		KeyVersion:   Version,
		KeySessionID: m.sid,
	}
	if m.sf != "" {
		d[KeyStreamingFormat] = m.sf
	}
	if m.config.ContentID != "" {
		d[KeyContentID] = m.config.ContentID
	}
	est := m.player.BandwidthEstimate()
	d.setNumber(KeyMeasuredThroughput, est/1000, isFinite(est))
	return d
}

// apply merges the baseline into d and writes it to req. Caller must hold
// m.mu.
func (m *Manager) apply(req *Request, d Data) {
	for k, v := range m.baseline() {
		d[k] = v
	}

	pr := m.player.PlaybackRate()
	d.setNumber(KeyPlaybackRate, pr, isFinite(pr))

	ot, _ := d[KeyObjectType].(ObjectType)
	if m.starved && (ot == ObjectTypeVideo || ot == ObjectTypeMuxed) {
		d[KeyBufferStarvation] = true
		d[KeyStartup] = true
		m.starved = false
	}

	if _, ok := d[KeyStartup]; !ok {
		d[KeyStartup] = m.buffering
	}

	// TODO: rtp, nrr, nor and dl need next-request and deadline data from
	// the streaming engine.

	mode := modeQuery
	if m.config.UseHeaders {
		mode = modeHeaders
		headers := ToHeaders(d)
		if len(headers) == 0 {
			return
		}
		if req.Headers == nil {
			req.Headers = make(map[string]string, len(headers))
		}
		for name, value := range headers {
			req.Headers[name] = value
		}
	} else {
		query := ToQuery(d)
		if query == "" {
			return
		}
		uris := make([]string, len(req.URIs))
		for i, uri := range req.URIs {
			uris[i] = AppendQueryToURI(uri, query)
		}
		req.URIs = uris
	}

	if m.metrics != nil {
		m.metrics.IncDecorated(mode, string(ot))
	}
}

// guard runs fn, converting an error or a panic into a reported failure of
// the given category.
func (m *Manager) guard(category string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.handleError(category, fmt.Errorf("%w: %v", ErrPlayerPanic, r))
		}
	}()
	if err := fn(); err != nil {
		m.handleError(category, err)
	}
}

func (m *Manager) handleError(category string, err error) {
	if m.metrics != nil {
		m.metrics.IncDerivationErrors(category)
	}
	if _, seen := m.warned[category]; !seen {
		m.warned[category] = struct{}{}
		m.log.Warn("could not generate cmcd data",
			slog.String("category", category),
			slog.String("error", err.Error()))
	}
	if m.onError != nil {
		m.onError(category, err)
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
