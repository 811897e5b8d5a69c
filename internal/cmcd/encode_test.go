package cmcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialize(t *testing.T) {
	d := Data{
		KeySessionID:          `a"b\c`,
		KeyBufferStarvation:   true,
		KeyStartup:            false,
		KeyBufferLength:       6049.0,
		KeyMeasuredThroughput: 1234.5,
		KeyPlaybackRate:       1.25,
		KeyObjectType:         ObjectTypeVideo,
		KeyDuration:           3999.6,
		KeyTopBitrate:         nan(),
		KeyBitrate:            posInf(),
		KeyContentID:          "",
		KeyVersion:            Version,
	}

	assert.Equal(t, `bl=6000,bs,d=4000,mtp=1200,ot=v,pr=1.25,sid="a\"b\\c",v=1`, Serialize(d))
}

func TestSerialize_empty(t *testing.T) {
	assert.Equal(t, "", Serialize(nil))
	assert.Equal(t, "", Serialize(Data{KeyStartup: false}))
}

func TestSerialize_customKeys(t *testing.T) {
	d := Data{"com.example-hint": "x", "com.example-level": 3.5, "com.example-flag": true}
	assert.Equal(t, `com.example-flag,com.example-hint="x",com.example-level=3.5`, Serialize(d))
}

func TestToHeaders(t *testing.T) {
	d := Data{
		KeyBitrate:             800.0,
		KeyDuration:            4000.0,
		KeyObjectType:          ObjectTypeMuxed,
		KeyTopBitrate:          900.0,
		KeyBufferLength:        2100.0,
		KeyMeasuredThroughput:  5000.0,
		KeyStartup:             true,
		KeyContentID:           "c",
		KeyPlaybackRate:        1.0,
		KeyStreamingFormat:     StreamingFormatDASH,
		KeySessionID:           "s",
		KeyStreamType:          StreamTypeVOD,
		KeyVersion:             Version,
		KeyBufferStarvation:    true,
		KeyRequestedThroughput: 12000.0,
		"com.example-custom":   "x",
	}

	assert.Equal(t, map[string]string{
		"CMCD-Object":  "br=800,d=4000,ot=av,tb=900",
		"CMCD-Request": `bl=2100,com.example-custom="x",mtp=5000,su`,
		"CMCD-Session": `cid="c",pr=1,sf=d,sid="s",st=v,v=1`,
		"CMCD-Status":  "bs,rtp=12000",
	}, ToHeaders(d))
}

func TestToHeaders_omitsEmptyGroups(t *testing.T) {
	assert.Empty(t, ToHeaders(Data{}))
	assert.Empty(t, ToHeaders(Data{KeyStartup: false, KeyBufferStarvation: false}))
	assert.Equal(t, map[string]string{"CMCD-Object": "ot=m"}, ToHeaders(Data{KeyObjectType: ObjectTypeManifest, KeyStartup: false}))
}

func TestAppendQueryToURI(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		query string
		want  string
	}{
		{"plain", "https://cdn.example.com/a.m4s", "ot=v", "https://cdn.example.com/a.m4s?CMCD=ot%3Dv"},
		{"existing query", "https://cdn.example.com/a.m4s?x=1", `sid="a b"`, "https://cdn.example.com/a.m4s?x=1&CMCD=sid%3D%22a+b%22"},
		{"replaces existing CMCD", "https://cdn.example.com/a.m4s?CMCD=old", "su", "https://cdn.example.com/a.m4s?CMCD=su"},
		{"replaces CMCD in the middle", "https://cdn.example.com/a.m4s?z=1&CMCD=old&a=2", "su", "https://cdn.example.com/a.m4s?z=1&a=2&CMCD=su"},
		{"empty query string", "https://cdn.example.com/a.m4s?", "su", "https://cdn.example.com/a.m4s?CMCD=su"},
		{"keeps query before fragment", "https://cdn.example.com/a.m4s?x=1#t=1", "bs", "https://cdn.example.com/a.m4s?x=1&CMCD=bs#t=1"},
		{"keeps fragment", "https://cdn.example.com/a.m4s#t=1", "bs", "https://cdn.example.com/a.m4s?CMCD=bs#t=1"},
		{"empty query", "https://cdn.example.com/a.m4s", "", "https://cdn.example.com/a.m4s"},
		{"offline", "offline:AAAA/1/2", "ot=v,su", "offline:AAAA/1/2"},
		{"offline in path", "https://cdn.example.com/offline:x", "ot=v", "https://cdn.example.com/offline:x"},
		{"unparseable", "http://[::1", "ot=v", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppendQueryToURI(tt.uri, tt.query))
		})
	}
}

func TestAppendQueryToURI_preservesOtherParams(t *testing.T) {
	uri := "https://cdn.example.com/seg.m4s?token=a;b&z=1&a=2&flag&sig=abc%2Fdef"

	got := AppendQueryToURI(uri, "ot=v,su")
	assert.Equal(t, uri+"&CMCD=ot%3Dv%2Csu", got)

	again := AppendQueryToURI(got, "ot=a")
	assert.Equal(t, uri+"&CMCD=ot%3Da", again)
}
