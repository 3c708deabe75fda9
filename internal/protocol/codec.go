package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var (
	// ErrMalformed is returned for frames that are not a single tagged JSON value.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownVariant is returned for a well-formed frame with an unknown tag.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrInvalid is returned when a known variant carries invalid fields.
	ErrInvalid = errors.New("invalid field")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// IsProtocolError reports whether err comes from decoding a client frame.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnknownVariant) ||
		errors.Is(err, ErrInvalid)
}

// DecodeRequest parses and validates one client frame.
func DecodeRequest(data []byte) (Request, error) {
	tag, body, err := splitTagged(data)
	if err != nil {
		return nil, err
	}

	var req Request
	switch tag {
	case TagJoin:
		req, err = decodeAs[JoinRequest](body)
	case TagLeave:
		req, err = decodeAs[LeaveRequest](body)
	case TagMessage:
		req, err = decodeAs[MessageRequest](body)
	case TagRoomList:
		req, err = decodeAs[RoomListRequest](body)
	case TagMembers:
		req, err = decodeAs[MembersRequest](body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, tag)
	}
	if err != nil {
		return nil, err
	}

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeEvent parses one server frame. Clients and tests use it; the server
// never decodes its own events.
func DecodeEvent(data []byte) (Event, error) {
	tag, body, err := splitTagged(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagRoomList:
		return decodeAs[RoomList](body)
	case TagMemberList:
		return decodeAs[MemberList](body)
	case TagUserJoined:
		return decodeAs[UserJoined](body)
	case TagUserLeft:
		return decodeAs[UserLeft](body)
	case TagNewMessage:
		return decodeAs[NewMessage](body)
	case TagHistoryBatch:
		return decodeAs[HistoryBatch](body)
	case TagError:
		return decodeAs[ErrorEvent](body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, tag)
	}
}

// EncodeEvent appends the tagged JSON form of ev to buf. On error buf holds
// partial output and must be discarded by the caller.
func EncodeEvent(buf *bytes.Buffer, ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalid)
	}
	return encodeTagged(buf, ev.eventTag(), ev)
}

// EncodeRequest appends the tagged JSON form of r to buf.
func EncodeRequest(buf *bytes.Buffer, r Request) error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalid)
	}
	return encodeTagged(buf, r.requestTag(), r)
}

// MarshalEvent returns ev as a standalone frame.
func MarshalEvent(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeEvent(&buf, ev); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalRequest returns r as a standalone frame.
func MarshalRequest(r Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeRequest(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTagged(buf *bytes.Buffer, tag string, v any) error {
	buf.WriteString(`{"`)
	buf.WriteString(tag)
	buf.WriteString(`":`)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", tag, err)
	}
	// Encoder terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	buf.WriteByte('}')
	return nil
}

// splitTagged accepts {"Tag":{...}} and, for field-less variants, "Tag".
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return tag, nil, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(envelope) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrMalformed, len(envelope))
	}
	for tag, body := range envelope {
		return tag, body, nil
	}
	return "", nil, ErrMalformed
}

func decodeAs[T any](body json.RawMessage) (T, error) {
	var v T
	if err := decodeBody(body, &v); err != nil {
		return v, err
	}
	return v, nil
}

func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func validateStruct(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s %s: %s", req.requestTag(), fe.Field(), rule))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(parts, ", "))
}
