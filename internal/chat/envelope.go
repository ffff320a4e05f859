package chat

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tag identifies the kind of a frame. Inbound frames carry one of the nine
// request tags; outbound frames mirror them, plus TagFriendNew.
type Tag int

const (
	TagUnknown Tag = iota
	TagSearch
	TagMessageList
	TagMessageSend
	TagMessageType
	TagRequestAccept
	TagRequestConnect
	TagRequestList
	TagFriendList
	TagThumbnail
	TagFriendNew
)

var tagNames = map[Tag]string{
	TagSearch:         "search",
	TagMessageList:    "message.list",
	TagMessageSend:    "message.send",
	TagMessageType:    "message.type",
	TagRequestAccept:  "request.accept",
	TagRequestConnect: "request.connect",
	TagRequestList:    "request.list",
	TagFriendList:     "friend.list",
	TagThumbnail:      "thumbnail",
	TagFriendNew:      "friend.new",
}

var inboundTags = map[string]Tag{
	"search":          TagSearch,
	"message.list":    TagMessageList,
	"message.send":    TagMessageSend,
	"message.type":    TagMessageType,
	"request.accept":  TagRequestAccept,
	"request.connect": TagRequestConnect,
	"request.list":    TagRequestList,
	"friend.list":     TagFriendList,
	"thumbnail":       TagThumbnail,
}

// String returns the wire name of t.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTag maps an inbound source string to its tag. friend.new is outbound
// only, so it parses as TagUnknown like any unrecognized string.
func ParseTag(source string) Tag {
	if tag, ok := inboundTags[source]; ok {
		return tag
	}
	return TagUnknown
}

// Envelope is the outbound wire frame.
type Envelope struct {
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// Frame is a decoded inbound frame. Raw keeps the whole object so each
// handler can pull its own fields out of it.
type Frame struct {
	Tag    Tag
	Source string
	Raw    []byte
}

// DecodeFrame reads the source tag of an inbound frame. Frames that are not
// JSON objects, or lack a string source, are malformed.
func DecodeFrame(raw []byte) (Frame, error) {
	var head struct {
		Source *string `json:"source"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Source == nil {
		return Frame{}, fmt.Errorf("%w: missing source", ErrMalformed)
	}
	return Frame{Tag: ParseTag(*head.Source), Source: *head.Source, Raw: raw}, nil
}

// Bind decodes the frame body into v.
func (f Frame) Bind(v any) error {
	if err := json.Unmarshal(f.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, f.Source, err)
	}
	return nil
}

// EncodeEnvelope renders an outbound frame.
func EncodeEnvelope(tag Tag, data any) ([]byte, error) {
	return json.Marshal(Envelope{Source: tag.String(), Data: data})
}
