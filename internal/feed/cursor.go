// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package feed

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursors are opaque to clients: base64("offset:pageSize"). The page size is
// encoded alongside the offset so a client that changes page size mid-scroll
// gets a clean restart instead of a misaligned window.

// EncodeCursor builds the opaque cursor for the next page.
func EncodeCursor(offset, pageSize int) string {
	return base64.URLEncoding.EncodeToString(
		[]byte(strconv.Itoa(offset) + ":" + strconv.Itoa(pageSize)))
}

// DecodeCursor parses an opaque cursor. An empty cursor means the first page.
func DecodeCursor(cursor string) (offset, pageSize int, err error) {
	if cursor == "" {
		return 0, 0, nil
	}

	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor: %w", err)
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cursor: missing separator")
	}

	offset, err = strconv.Atoi(parts[0])
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("malformed cursor: bad offset")
	}
	pageSize, err = strconv.Atoi(parts[1])
	if err != nil || pageSize <= 0 {
		return 0, 0, fmt.Errorf("malformed cursor: bad page size")
	}
	return offset, pageSize, nil
}
