package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tOgg1/yfeed/internal/models"
)

// PostEventType is the only tagged frame type treated as a post.
const PostEventType = "com.y.post"

// ErrUnknownEventType marks tagged frames of some other type. They are
// expected on a shared channel and only logged at debug.
var ErrUnknownEventType = errors.New("unknown event type")

// Protocol pins which frame shape the live channel may use.
type Protocol int

const (
	// ProtocolAuto accepts both shapes, detected per frame by a "type" field.
	ProtocolAuto Protocol = iota
	// ProtocolTagged accepts only {"type": ..., "data": <Post>}.
	ProtocolTagged
	// ProtocolUntagged accepts only raw <Post> objects.
	ProtocolUntagged
)

// ParseProtocol maps the config spelling onto a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "", "auto":
		return ProtocolAuto, nil
	case "tagged":
		return ProtocolTagged, nil
	case "untagged":
		return ProtocolUntagged, nil
	default:
		return ProtocolAuto, fmt.Errorf("unknown protocol %q", s)
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolTagged:
		return "tagged"
	case ProtocolUntagged:
		return "untagged"
	default:
		return "auto"
	}
}

// ParseFrame normalizes one text frame into a post. Every failure is a
// *MalformedMessage.
func ParseFrame(frame []byte, protocol Protocol) (models.Post, error) {
	if !gjson.ValidBytes(frame) {
		return models.Post{}, &MalformedMessage{Reason: "invalid json", Frame: frame}
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return models.Post{}, &MalformedMessage{Reason: "frame is not an object", Frame: frame}
	}

	payload := frame
	if typ := root.Get("type"); typ.Exists() {
		if protocol == ProtocolUntagged {
			return models.Post{}, &MalformedMessage{Reason: "tagged frame on untagged channel", Frame: frame}
		}
		if typ.String() != PostEventType {
			return models.Post{}, &MalformedMessage{
				Reason: fmt.Sprintf("type %q", typ.String()),
				Frame:  frame,
				Err:    ErrUnknownEventType,
			}
		}
		data := root.Get("data")
		if !data.IsObject() {
			return models.Post{}, &MalformedMessage{Reason: "tagged frame without data object", Frame: frame}
		}
		payload = []byte(data.Raw)
	} else if protocol == ProtocolTagged {
		return models.Post{}, &MalformedMessage{Reason: "untagged frame on tagged channel", Frame: frame}
	}

	var post models.Post
	if err := json.Unmarshal(payload, &post); err != nil {
		return models.Post{}, &MalformedMessage{Reason: "decode post", Frame: frame, Err: err}
	}
	if err := post.Validate(); err != nil {
		return models.Post{}, &MalformedMessage{Reason: "invalid post", Frame: frame, Err: err}
	}
	return post, nil
}

// EncodeFrame renders a post in the requested shape. ProtocolAuto encodes
// tagged.
func EncodeFrame(post models.Post, protocol Protocol) ([]byte, error) {
	if protocol == ProtocolUntagged {
		return json.Marshal(post)
	}
	return json.Marshal(struct {
		Type string      `json:"type"`
		Data models.Post `json:"data"`
	}{Type: PostEventType, Data: post})
}
