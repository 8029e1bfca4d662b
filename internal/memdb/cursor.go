package memdb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/payvex/payvex/internal/backend"
)

// cursor is the decoded form of a continuation token. It pins the table and
// index it was issued for so it cannot be replayed against another scan.
type cursor struct {
	Table string   `json:"t"`
	Index string   `json:"i"`
	Pos   position `json:"p"`
}

func encodeCursor(c cursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := strconv.FormatUint(xxhash.Sum64(payload), 16)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + sum, nil
}

func decodeCursor(token, table, indexName string) (cursor, error) {
	var c cursor
	encoded, sum, ok := strings.Cut(token, ".")
	if !ok {
		return c, fmt.Errorf("%w: malformed token", backend.ErrInvalidCursor)
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return c, fmt.Errorf("%w: %v", backend.ErrInvalidCursor, err)
	}
	if strconv.FormatUint(xxhash.Sum64(payload), 16) != sum {
		return c, fmt.Errorf("%w: checksum mismatch", backend.ErrInvalidCursor)
	}

	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("%w: %v", backend.ErrInvalidCursor, err)
	}
	if n, ok := c.Pos.Value.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return c, fmt.Errorf("%w: %v", backend.ErrInvalidCursor, err)
		}
		c.Pos.Value = f
	}
	if c.Table != table || c.Index != indexName {
		return c, fmt.Errorf("%w: issued for %s.%s", backend.ErrInvalidCursor, c.Table, c.Index)
	}
	return c, nil
}
