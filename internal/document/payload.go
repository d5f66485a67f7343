package document

import "time"

// Payload field names shared by the writer, the resolver and the search command.
const (
	PayloadKey     = "key"
	PayloadKind    = "kind"
	PayloadTitle   = "title"
	PayloadPreview = "content_preview"
)

// Payload returns the queryable attributes stored next to a document's
// vector. preview is the already capped and redacted body excerpt.
func Payload(doc *Document, preview string) map[string]any {
	p := map[string]any{
		PayloadKey:     doc.ID,
		PayloadKind:    string(doc.Kind),
		PayloadTitle:   doc.Title,
		PayloadPreview: preview,
		"word_count":   doc.WordCount,
	}

	switch doc.Kind {
	case KindCode:
		p["relative_path"] = doc.Path
		p["file_name"] = doc.FileName
		p["module"] = doc.Module
		p["subpath"] = doc.Subpath
		p["extension"] = doc.Extension
		p["lines"] = doc.LineCount
		putList(p, "imports", doc.Symbols.Imports)
		putList(p, "classes", doc.Symbols.Classes)
		putList(p, "structs", doc.Symbols.Structs)
		putList(p, "enums", doc.Symbols.Enums)
		putList(p, "protocols", doc.Symbols.Protocols)
		putList(p, "functions", doc.Symbols.Functions)
	default:
		p["notion_id"] = doc.ID
		p["url"] = doc.URL
		p["block_count"] = doc.BlockCount
		p["parent_id"] = doc.ParentID
		p["parent_type"] = doc.ParentType
		putList(p, "tags", doc.Tags)
		if !doc.CreatedAt.IsZero() {
			p["created_time"] = doc.CreatedAt.UTC().Format(time.RFC3339)
		}
		if !doc.UpdatedAt.IsZero() {
			p["last_edited_time"] = doc.UpdatedAt.UTC().Format(time.RFC3339)
		}
	}
	return p
}

func putList(p map[string]any, key string, values []string) {
	if len(values) > 0 {
		p[key] = values
	}
}

// KeyFromPayload returns the external document key stored in a payload.
func KeyFromPayload(payload map[string]any) string {
	if k, ok := payload[PayloadKey].(string); ok {
		return k
	}
	return ""
}

// StringList reads a list payload field regardless of whether the backend
// returned []string or []any.
func StringList(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SimilarityEdge links two documents by external key. Source is always the
// byte-wise smaller key.
type SimilarityEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Score  float64 `json:"score"`
}
