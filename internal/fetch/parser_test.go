package fetch

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/media"
)

func buildInit(t *testing.T) []byte {
	t.Helper()
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        1,
			TimeScale: 48000,
			Codec:     &mp4.CodecOpus{ChannelCount: 2},
		}},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, init.Marshal(&buf))
	return buf.Bytes()
}

func buildFragment(t *testing.T, baseTime uint64, samples int) []byte {
	t.Helper()
	track := &fmp4.PartTrack{ID: 1, BaseTime: baseTime}
	for i := 0; i < samples; i++ {
		track.Samples = append(track.Samples, &fmp4.Sample{Duration: 48000, Payload: []byte{byte(i), 1, 2}})
	}
	part := &fmp4.Part{SequenceNumber: 1, Tracks: []*fmp4.PartTrack{track}}
	var buf seekablebuffer.Buffer
	require.NoError(t, part.Marshal(&buf))
	return buf.Bytes()
}

func pesHeader(pts int64) []byte {
	return []byte{
		0x00, 0x00, 0x01, 0xe0, // start code, video stream
		0x00, 0x00, // unbounded length
		0x80, 0x80, 0x05, // PTS only, 5 header bytes
		byte(0x20 | ((pts >> 29) & 0x0e) | 1),
		byte(pts >> 22),
		byte(((pts >> 14) & 0xfe) | 1),
		byte(pts >> 7),
		byte(((pts << 1) & 0xfe) | 1),
	}
}

func tsPacket(pid uint16, cc byte, payload []byte) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = 0x40 | byte(pid>>8)&0x1f
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc&0x0f
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < len(pkt); i++ {
		pkt[i] = 0xff
	}
	return pkt
}

func buildTS(ptss ...int64) []byte {
	var out []byte
	for i, pts := range ptss {
		out = append(out, tsPacket(0x100, byte(i), pesHeader(pts))...)
	}
	return out
}

func secondsSegment(start, dur float64) media.Segment {
	return media.Segment{ID: "s", Time: int64(start * 1000), Duration: int64(dur * 1000), Timescale: 1000}
}

func TestParserFor(t *testing.T) {
	tests := []struct {
		mime string
		want Parser
	}{
		{"video/mp4", MP4Parser{}},
		{"audio/mp4; codecs=\"mp4a.40.2\"", MP4Parser{}},
		{"video/MP2T", TSParser{}},
		{"text/vtt", VTTParser{}},
		{"image/jpeg", ImageParser{}},
		{"application/octet-stream", PassthroughParser{}},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.IsType(t, tt.want, ParserFor(tt.mime))
		})
	}
}

func TestMP4Parser(t *testing.T) {
	p := MP4Parser{}

	info, err := p.ParseInit(buildInit(t))
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), info.Timescale)
	assert.Equal(t, 1, info.TrackID)

	parsed, err := p.ParseMedia(buildFragment(t, 96000, 2), secondsSegment(2, 2), info)
	require.NoError(t, err)
	require.NotNil(t, parsed.Timing)
	assert.InDelta(t, 2.0, parsed.Timing.Start, 1e-9)
	assert.InDelta(t, 2.0, parsed.Timing.Duration, 1e-9)

	start, end := parsed.Bounds(secondsSegment(2, 2))
	assert.InDelta(t, 2.0, start, 1e-9)
	assert.InDelta(t, 4.0, end, 1e-9)

	// without init info only the payload is known
	parsed, err = p.ParseMedia(buildFragment(t, 96000, 2), secondsSegment(2, 2), nil)
	require.NoError(t, err)
	assert.Nil(t, parsed.Timing)

	_, err = p.ParseInit([]byte("not an mp4"))
	assert.Error(t, err)
}

func TestTSParser(t *testing.T) {
	data := buildTS(903600, 900000, 907200)

	parsed, err := TSParser{}.ParseMedia(data, secondsSegment(10, 6), nil)
	require.NoError(t, err)
	require.NotNil(t, parsed.Timing)
	assert.InDelta(t, 10.0, parsed.Timing.Start, 1e-9)
	assert.InDelta(t, 6.0, parsed.Timing.Duration, 1e-9)

	_, err = TSParser{}.ParseMedia(bytes.Repeat([]byte{0x00}, 400), secondsSegment(0, 6), nil)
	assert.Error(t, err)
}

func TestParsedSegment_BoundsFallsBackToManifest(t *testing.T) {
	// decoded timeline unrelated to the playlist timeline
	parsed := &ParsedSegment{Timing: &TimingInfo{Start: 3600, Duration: 6}}
	start, end := parsed.Bounds(secondsSegment(12, 6))
	assert.Equal(t, 12.0, start)
	assert.Equal(t, 18.0, end)

	var none *ParsedSegment
	start, end = none.Bounds(secondsSegment(1, 1))
	assert.Equal(t, 1.0, start)
	assert.Equal(t, 2.0, end)
}

func TestParseWebVTT(t *testing.T) {
	doc := "\ufeffWEBVTT\nX-TIMESTAMP-MAP=MPEGTS:0,LOCAL:00:00:00.000\n\n" +
		"NOTE a comment\nspanning lines\n\n" +
		"intro\n00:00:01.000 --> 00:00:02.500 align:start\nHello\nworld\n\n" +
		"01:00.000 --> 01:01.250\nSecond\n"

	cues, err := ParseWebVTT([]byte(doc), 10)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, "intro", cues[0].ID)
	assert.InDelta(t, 11.0, cues[0].Start, 1e-9)
	assert.InDelta(t, 12.5, cues[0].End, 1e-9)
	assert.Equal(t, "Hello\nworld", cues[0].Text)
	assert.Equal(t, "align:start", cues[0].Settings)

	assert.InDelta(t, 70.0, cues[1].Start, 1e-9)
	assert.InDelta(t, 71.25, cues[1].End, 1e-9)

	_, err = ParseWebVTT([]byte("1\n00:00:01.000 --> 00:00:02.000\nx"), 0)
	assert.ErrorIs(t, err, errNotWebVTT)

	_, err = ParseWebVTT([]byte("WEBVTT\n\nxx:yy --> 00:01.000\n"), 0)
	assert.Error(t, err)
}

func TestImageParser(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))

	parsed, err := ImageParser{}.ParseMedia(buf.Bytes(), secondsSegment(5, 5), nil)
	require.NoError(t, err)
	thumb, ok := parsed.Payload.(media.Thumbnail)
	require.True(t, ok)
	assert.Equal(t, "png", thumb.Format)
	assert.Equal(t, 4, thumb.Width)
	assert.Equal(t, 3, thumb.Height)
	assert.Equal(t, 5.0, thumb.Start)
	assert.Equal(t, 10.0, thumb.End)

	_, err = ImageParser{}.ParseMedia([]byte("nope"), secondsSegment(0, 1), nil)
	assert.Error(t, err)
}
