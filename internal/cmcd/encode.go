package cmcd

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// offlineMarker identifies URIs served from local storage.
const offlineMarker = "offline:"

// Header names, indexed by headerGroup.
var headerNames = [...]string{
	HeaderPrefix + "Object",
	HeaderPrefix + "Request",
	HeaderPrefix + "Session",
	HeaderPrefix + "Status",
}

type headerGroup int

const (
	groupObject headerGroup = iota
	groupRequest
	groupSession
	groupStatus
)

// Keys absent from this table go to the Request header.
var headerGroups = map[string]headerGroup{
	KeyBitrate:    groupObject,
	KeyDuration:   groupObject,
	KeyObjectType: groupObject,
	KeyTopBitrate: groupObject,

	KeyBufferLength:       groupRequest,
	KeyDeadline:           groupRequest,
	KeyMeasuredThroughput: groupRequest,
	KeyNextObjectRequest:  groupRequest,
	KeyNextRangeRequest:   groupRequest,
	KeyStartup:            groupRequest,

	KeyContentID:       groupSession,
	KeyPlaybackRate:    groupSession,
	KeyStreamingFormat: groupSession,
	KeySessionID:       groupSession,
	KeyStreamType:      groupSession,
	KeyVersion:         groupSession,

	KeyBufferStarvation:    groupStatus,
	KeyRequestedThroughput: groupStatus,
}

func groupOf(key string) headerGroup {
	if g, ok := headerGroups[key]; ok {
		return g
	}
	return groupRequest
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Serialize encodes d as a CTA-5004 payload: entries sorted by key and
// joined with commas. Entries without a sendable value are skipped.
func Serialize(d Data) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if entry, ok := encodeEntry(k, d[k]); ok {
			parts = append(parts, entry)
		}
	}
	return strings.Join(parts, ",")
}

func encodeEntry(key string, v any) (string, bool) {
	switch val := v.(type) {
	case bool:
		// Boolean keys are only sent when true, and then without a value.
		if !val {
			return "", false
		}
		return key, true
	case ObjectType:
		return encodeToken(key, string(val))
	case StreamingFormat:
		return encodeToken(key, string(val))
	case StreamType:
		return encodeToken(key, string(val))
	case string:
		if val == "" {
			return "", false
		}
		return key + `="` + stringEscaper.Replace(val) + `"`, true
	case float64:
		return encodeNumber(key, val)
	case int:
		return encodeNumber(key, float64(val))
	case int64:
		return encodeNumber(key, float64(val))
	default:
		return "", false
	}
}

func encodeToken(key, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return key + "=" + token, true
}

func encodeNumber(key string, v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	switch key {
	case KeyBufferLength, KeyDeadline, KeyMeasuredThroughput:
		return key + "=" + strconv.FormatInt(int64(math.Round(v/100)*100), 10), true
	case KeyBitrate, KeyDuration, KeyTopBitrate, KeyRequestedThroughput, KeyVersion:
		return key + "=" + strconv.FormatInt(int64(math.Round(v)), 10), true
	default:
		return key + "=" + strconv.FormatFloat(v, 'f', -1, 64), true
	}
}

// ToHeaders splits d into the four CMCD headers. A header whose group has
// nothing to send is left out, so the result may be empty.
func ToHeaders(d Data) map[string]string {
	var groups [len(headerNames)]Data
	for k, v := range d {
		g := groupOf(k)
		if groups[g] == nil {
			groups[g] = Data{}
		}
		groups[g][k] = v
	}

	headers := make(map[string]string)
	for i, group := range groups {
		if value := Serialize(group); value != "" {
			headers[headerNames[i]] = value
		}
	}
	return headers
}

// ToQuery encodes d for the CMCD query parameter.
func ToQuery(d Data) string {
	return Serialize(d)
}

// AppendQueryToURI sets the CMCD query parameter on uri. Other query
// parameters are kept byte for byte and in order; an existing CMCD parameter
// is replaced. Offline URIs, empty queries and URIs that do not parse are
// returned unchanged.
func AppendQueryToURI(uri, query string) string {
	if query == "" {
		return uri
	}
	if strings.Contains(uri, offlineMarker) {
		return uri
	}
	if _, err := url.Parse(uri); err != nil {
		return uri
	}

	rest, fragment, hasFragment := strings.Cut(uri, "#")
	base, rawQuery, _ := strings.Cut(rest, "?")

	pairs := make([]string, 0, strings.Count(rawQuery, "&")+2)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" || isQueryParam(pair) {
			continue
		}
		pairs = append(pairs, pair)
	}
	pairs = append(pairs, QueryParam+"="+url.QueryEscape(query))

	out := base + "?" + strings.Join(pairs, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// isQueryParam reports whether a raw key=value pair carries the CMCD key.
func isQueryParam(pair string) bool {
	key, _, _ := strings.Cut(pair, "=")
	if key == QueryParam {
		return true
	}
	unescaped, err := url.QueryUnescape(key)
	return err == nil && unescaped == QueryParam
}
