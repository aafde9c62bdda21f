package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		media *Media
		want  Kind
	}{
		{name: "nil descriptor", media: nil, want: KindGeneric},
		{name: "plain document", media: &Media{Document: &Document{ID: 1}}, want: KindGeneric},
		{name: "sticker", media: &Media{Document: &Document{Sticker: true}}, want: KindSticker},
		{
			name:  "animated sticker classifies as sticker",
			media: &Media{Document: &Document{Sticker: true, Animated: true}},
			want:  KindSticker,
		},
		{name: "animated gif", media: &Media{Document: &Document{Animated: true}}, want: KindAnimatedGif},
		{name: "round video", media: &Media{Document: &Document{RoundVideo: true}}, want: KindRoundVideo},
		{name: "dice", media: &Media{Dice: true}, want: KindDice},
		{name: "webpage preview", media: &Media{WebPage: true}, want: KindInstantView},
		{name: "game", media: &Media{Game: true}, want: KindGame},
		{name: "geo point", media: &Media{Geo: true}, want: KindGeo},
		{name: "poll", media: &Media{Poll: true}, want: KindPoll},
		{name: "contact", media: &Media{Contact: true}, want: KindContact},
		{name: "photo", media: &Media{Photo: true}, want: KindPhoto},
		{
			name:  "document attributes win over media flags",
			media: &Media{Photo: true, Document: &Document{Sticker: true}},
			want:  KindSticker,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.media))
		})
	}
}

func TestKindHasPayload(t *testing.T) {
	t.Parallel()

	assert.False(t, KindGeo.HasPayload())
	assert.False(t, KindPoll.HasPayload())
	assert.True(t, KindSticker.HasPayload())
	assert.True(t, KindPhoto.HasPayload())
	assert.True(t, KindGeneric.HasPayload())
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		media *Media
		want  string
	}{
		{name: "nil descriptor", media: nil, want: ""},
		{
			name:  "document keeps its own filename",
			media: &Media{Document: &Document{FileName: "report.pdf"}},
			want:  "report.pdf",
		},
		{
			name:  "voice note from mime type",
			media: &Media{Document: &Document{MIMEType: "audio/ogg"}},
			want:  "voicenote.ogg",
		},
		{
			name:  "video from mime type",
			media: &Media{Document: &Document{MIMEType: "video/mp4"}},
			want:  "video.mp4",
		},
		{name: "photo", media: &Media{Photo: true}, want: "photo.jpg"},
		{name: "contact card", media: &Media{Contact: true}, want: "contact.vcf"},
		{name: "unrecognized", media: &Media{}, want: "file.unknown"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, FileName(tc.media))
		})
	}
}

func TestEncodeDecodeMedia(t *testing.T) {
	t.Parallel()

	data, err := EncodeMedia(nil)
	require.NoError(t, err)
	assert.Nil(t, data, "nil descriptor must encode to nil for a NULL column")

	m, err := DecodeMedia(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	src := &Media{
		Photo:      true,
		TTLSeconds: 30,
		Size:       2048,
		Document:   &Document{ID: 9, AccessHash: 42, FileName: "cat.webp", Sticker: true},
	}
	data, err = EncodeMedia(src)
	require.NoError(t, err)

	got, err := DecodeMedia(data)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	_, err = DecodeMedia([]byte("{not json"))
	assert.Error(t, err)
}
