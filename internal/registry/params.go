package registry

import "strings"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Sortable columns. Keys are the API names, values the column names.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"size_bytes": "size_bytes",
	"fileSize":   "size_bytes",
	"mime_type":  "mime_type",
	"mimeType":   "mime_type",
	"status":     "status",
}

// ListParams filters and pages a certificate listing. Zero values mean
// "no filter"; Normalize fills defaults.
type ListParams struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
	// FileType matches the artifact kind ("image", "pdf") or an exact MIME type.
	FileType string
	Status   string
	// Search is a case-insensitive substring match over the extracted text.
	Search  string
	OwnerID string
}

// Normalize clamps paging and replaces unknown sort fields with defaults.
func (p ListParams) Normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	col, ok := sortColumns[p.SortBy]
	if !ok {
		col = "created_at"
	}
	p.SortBy = col
	if strings.EqualFold(p.SortOrder, "asc") {
		p.SortOrder = "asc"
	} else {
		p.SortOrder = "desc"
	}
	p.FileType = strings.ToLower(strings.TrimSpace(p.FileType))
	p.Search = strings.TrimSpace(p.Search)
	return p
}
