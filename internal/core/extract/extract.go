// Package extract turns raw document blobs into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/strataline/strataline/internal/core"
)

const stage = "extract"

// supported maps accepted content types to the docconv mime type used to
// parse them. Anything else is rejected without retry.
var supported = map[string]string{
	"application/pdf": "application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword": "application/msword",
	"text/html":          "text/html",
	"text/plain":         "text/plain",
	"text/markdown":      "text/plain",
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.TextExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// Extract converts blob into plain text. The blob is never mutated.
// Unsupported or corrupt documents fail fatally; a deadline hit while
// parsing is reported as transient so the orchestrator can retry it.
func (e *DocconvExtractor) Extract(ctx context.Context, blob []byte, contentType string) (string, error) {
	mime, ok := supported[normalizeContentType(contentType)]
	if !ok {
		return "", core.Invalid(stage, fmt.Errorf("unsupported format %q", contentType))
	}

	// Plain text needs no conversion; docconv would only re-encode it.
	if mime == "text/plain" {
		return string(blob), nil
	}

	res, err := docconv.Convert(bytes.NewReader(blob), mime, e.useReadability)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "", core.Transient(stage, err)
		}
		return "", core.Invalid(stage, fmt.Errorf("corrupt %s document: %w", contentType, err))
	}
	return res.Body, nil
}

// normalizeContentType strips parameters such as "; charset=utf-8".
func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
