package model

import (
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// WordDecoder returns the RFC 2047 decoder shared by every ingestion path.
func WordDecoder() *mime.WordDecoder {
	return wordDecoder
}

// DecodeHeader decodes RFC 2047 encoded words. Undecodable input is returned unchanged.
func DecodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
