package mime

import (
	"encoding/base64"
	"strings"

	"mailflow_server/core/domain"
)

const (
	mimeTextHTML  = "text/html"
	mimeTextPlain = "text/plain"
)

// ExtractBody selects the display body of a message.
//
// For a container, the first text/html child with data is returned as soon as
// it is seen; otherwise the last text/plain child with data wins. A part with
// no children yields its own data. Only direct children are inspected, so
// bodies nested in deeper multipart containers render as "".
func ExtractBody(root *domain.MessagePart) (string, error) {
	if root == nil {
		return "", &MissingDataError{What: "message payload"}
	}

	if len(root.Children) > 0 {
		body := ""
		for _, part := range root.Children {
			if part == nil || part.Data == "" {
				continue
			}
			switch part.MimeType {
			case mimeTextHTML:
				return decodePart(part)
			case mimeTextPlain:
				text, err := decodePart(part)
				if err != nil {
					return "", err
				}
				body = text
			}
		}
		return body, nil
	}

	if root.Data != "" {
		return decodePart(root)
	}
	return "", nil
}

func decodePart(part *domain.MessagePart) (string, error) {
	text, err := DecodeData(part.Data)
	if err != nil {
		return "", &DecodeError{MimeType: part.MimeType, Err: err}
	}
	return text, nil
}

// DecodeData decodes Gmail base64url part data, padded or not.
// Invalid UTF-8 sequences are replaced rather than rejected.
func DecodeData(data string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(raw), "�"), nil
}
