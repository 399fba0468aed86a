package mimepart

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

type partKind uint8

const (
	partField partKind = iota
	partFile
	partNested
)

func (k partKind) String() string {
	switch k {
	case partFile:
		return "file"
	case partNested:
		return "nested"
	}

	return "field"
}

type partInfo struct {
	kind        partKind
	name        string
	header      Header
	contentType string
	mediaType   string
	boundary    string
}

// classify decides how a part is read from its header block.
// Parts of a form-data body must be named; other multipart subtypes
// do not require a Content-Disposition at all.
func (st *parseState) classify(header Header, mediaType string) (partInfo, error) {
	info := partInfo{
		name:        header.Name(),
		header:      header,
		contentType: "text/plain",
	}

	if mediaType == "multipart/form-data" {
		if err := requireName(header); err != nil {
			return partInfo{}, err
		}
	}

	// an unparsable Content-Type only rules out a nested body
	var params map[string]string
	if ct := header.ContentType(); ct != "" {
		info.contentType = ct
		if mt, ps, err := mime.ParseMediaType(ct); err == nil {
			info.mediaType, params = mt, ps
		}
	}

	switch {
	case strings.HasPrefix(info.mediaType, "multipart/"):
		info.kind = partNested
		info.boundary = params["boundary"]
		if info.boundary == "" {
			return partInfo{}, newError(KindBoundaryNotSpecified, fmt.Errorf("nested part %q", info.name))
		}
	case st.alwaysUseFiles, header.hasFileName(), header.Disposition() == "attachment":
		info.kind = partFile
	default:
		info.kind = partField
	}

	return info, nil
}

func requireName(header Header) error {
	v := header.Get("Content-Disposition")
	if v == "" {
		return newError(KindMissingDisposition, errors.New("no Content-Disposition header"))
	}
	if _, _, err := mime.ParseMediaType(v); err != nil {
		return newError(KindHeaderSyntax, fmt.Errorf("invalid Content-Disposition %q: %w", v, err))
	}
	if _, ok := header.dispositionParams["name"]; !ok {
		return newError(KindMissingDisposition, fmt.Errorf("no name in Content-Disposition %q", v))
	}

	return nil
}
