package platform

import "encoding/json"

// Media is the serialized attachment descriptor stored with an audit
// record. It carries metadata only; raw bytes live in the vault. Ref is an
// opaque transport token that lets the external client re-download or
// re-send the attachment while the platform still holds it.
type Media struct {
	Photo   bool `json:"photo,omitempty"`
	Contact bool `json:"contact,omitempty"`
	Dice    bool `json:"dice,omitempty"`
	WebPage bool `json:"webpage,omitempty"`
	Game    bool `json:"game,omitempty"`
	Geo     bool `json:"geo,omitempty"`
	Poll    bool `json:"poll,omitempty"`

	// TTLSeconds is nonzero for self-destructing content.
	TTLSeconds int `json:"ttl_seconds,omitempty"`

	// Size is the attachment size in bytes when the transport knows it,
	// zero otherwise.
	Size int64 `json:"size,omitempty"`

	Document *Document `json:"document,omitempty"`

	Ref json.RawMessage `json:"ref,omitempty"`
}

// Document describes a document-style attachment (files, stickers, gifs,
// video notes, voice notes).
type Document struct {
	ID            int64  `json:"id"`
	AccessHash    int64  `json:"access_hash"`
	FileReference []byte `json:"file_reference,omitempty"`
	MIMEType      string `json:"mime_type,omitempty"`
	FileName      string `json:"file_name,omitempty"`
	Sticker       bool   `json:"sticker,omitempty"`
	Animated      bool   `json:"animated,omitempty"`
	RoundVideo    bool   `json:"round_video,omitempty"`
}

// Kind is the closed classification of an attachment, derived once from
// the descriptor shape instead of re-checked predicates at each use site.
type Kind int

const (
	KindGeneric Kind = iota
	KindSticker
	KindAnimatedGif
	KindRoundVideo
	KindDice
	KindInstantView
	KindGame
	KindGeo
	KindPoll
	KindContact
	KindPhoto
)

var kindNames = map[Kind]string{
	KindGeneric:     "generic",
	KindSticker:     "sticker",
	KindAnimatedGif: "animated_gif",
	KindRoundVideo:  "round_video",
	KindDice:        "dice",
	KindInstantView: "instant_view",
	KindGame:        "game",
	KindGeo:         "geo",
	KindPoll:        "poll",
	KindContact:     "contact",
	KindPhoto:       "photo",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "generic"
}

// Classify maps a media descriptor to its Kind. Document attributes take
// precedence over media-level flags; a sticker that is also animated
// classifies as a sticker, matching how the report routing treats it.
func Classify(m *Media) Kind {
	if m == nil {
		return KindGeneric
	}
	if d := m.Document; d != nil {
		switch {
		case d.Sticker:
			return KindSticker
		case d.Animated:
			return KindAnimatedGif
		case d.RoundVideo:
			return KindRoundVideo
		}
	}
	switch {
	case m.Dice:
		return KindDice
	case m.WebPage:
		return KindInstantView
	case m.Game:
		return KindGame
	case m.Geo:
		return KindGeo
	case m.Poll:
		return KindPoll
	case m.Contact:
		return KindContact
	case m.Photo:
		return KindPhoto
	}
	return KindGeneric
}

// HasPayload reports whether the kind carries binary content that can be
// captured and later re-displayed. Geo points and polls do not.
func (k Kind) HasPayload() bool {
	return k != KindGeo && k != KindPoll
}

// FileName resolves a display filename for a retrieved attachment.
func FileName(m *Media) string {
	if m == nil {
		return ""
	}
	if d := m.Document; d != nil {
		if d.FileName != "" {
			return d.FileName
		}
		switch d.MIMEType {
		case "audio/ogg":
			return "voicenote.ogg"
		case "video/mp4":
			return "video.mp4"
		}
	}
	switch {
	case m.Photo:
		return "photo.jpg"
	case m.Contact:
		return "contact.vcf"
	}
	return "file.unknown"
}

// EncodeMedia serializes a descriptor for storage. A nil descriptor
// encodes to nil so the media column stays NULL for text-only messages.
func EncodeMedia(m *Media) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// DecodeMedia deserializes a stored descriptor. Empty input yields nil.
func DecodeMedia(data []byte) (*Media, error) {
	if len(data) == 0 {
		return nil, nil
	}
	m := &Media{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
