package request

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/edvin/certverify/internal/registry"
)

var sortFields = map[string]bool{
	"created_at": true, "createdAt": true,
	"size_bytes": true, "fileSize": true,
	"mime_type": true, "mimeType": true,
	"status": true,
}

// ParseListParams reads limit, offset, sortBy, sortOrder, fileType, status
// and search from the query string. Paging values are clamped by the
// registry; malformed numbers and unknown sort fields are rejected.
func ParseListParams(r *http.Request) (registry.ListParams, error) {
	q := r.URL.Query()
	p := registry.ListParams{
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		FileType:  q.Get("fileType"),
		Status:    q.Get("status"),
		Search:    q.Get("search"),
	}

	var err error
	if p.Limit, err = queryInt(q.Get("limit")); err != nil {
		return p, fmt.Errorf("invalid limit: %w", err)
	}
	if p.Offset, err = queryInt(q.Get("offset")); err != nil {
		return p, fmt.Errorf("invalid offset: %w", err)
	}
	if p.SortBy != "" && !sortFields[p.SortBy] {
		return p, fmt.Errorf("invalid sortBy %q", p.SortBy)
	}
	if p.SortOrder != "" && p.SortOrder != "asc" && p.SortOrder != "desc" {
		return p, fmt.Errorf("invalid sortOrder %q: must be asc or desc", p.SortOrder)
	}
	return p.Normalize(), nil
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}
