package historian

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// exportSchemaJSON constrains the shape of a JSON export document: one entry
// object or a list of them, with items either inline or as parallel
// urls/titles/snippets arrays.
const exportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {"$ref": "#/$defs/entry"},
    {"type": "array", "items": {"$ref": "#/$defs/entry"}}
  ],
  "$defs": {
    "entry": {
      "type": "object",
      "properties": {
        "source_account": {"type": "string"},
        "source_message_id": {"type": ["string", "number"]},
        "id": {"type": ["string", "number"]},
        "cursor": {"type": "number"},
        "alert_topic": {"type": "string"},
        "topic": {"type": "string"},
        "alert_query_raw": {"type": "string"},
        "query": {"type": "string"},
        "items": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "url": {"type": "string"},
              "title": {"type": "string"},
              "snippet": {"type": "string"}
            }
          }
        },
        "urls": {"type": "array", "items": {"type": "string"}},
        "titles": {"type": "array", "items": {"type": "string"}},
        "snippets": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var exportSchema = mustCompileExportSchema()

func mustCompileExportSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(exportSchemaJSON))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("export.json", doc); err != nil {
		panic(err)
	}
	schema, err := c.Compile("export.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// LoadJSONExport parses one export file into canonical payloads after
// validating it against the export schema. Entries without any usable item
// are dropped.
func LoadJSONExport(path string) ([]CanonicalPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, fmt.Errorf("parse export %s: %w", path, err)
	}
	if err := exportSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate export %s: %w", path, err)
	}

	entries, ok := doc.([]any)
	if !ok {
		entries = []any{doc}
	}
	var out []CanonicalPayload
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := parseExportEntry(entry); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func parseExportEntry(entry map[string]any) (CanonicalPayload, bool) {
	var items []CanonicalItem
	for _, it := range entryItems(entry) {
		if strings.TrimSpace(it.url) == "" {
			continue
		}
		items = append(items, NormalizeItem(it.url, it.title, it.snippet))
	}
	if len(items) == 0 {
		return CanonicalPayload{}, false
	}

	messageID := stringField(entry, "source_message_id", "id")
	if messageID == "" {
		// Deterministic fallback: key the entry by its own content.
		b, _ := json.Marshal(entry)
		sum := sha256.Sum256(b)
		messageID = "json:" + hex.EncodeToString(sum[:8])
	}
	topic := stringField(entry, "alert_topic", "topic")
	if topic == "" {
		topic = "unknown-topic"
	}
	account := stringField(entry, "source_account")
	if account == "" {
		account = "json-export"
	}

	return CanonicalPayload{
		SourceAccount:   account,
		SourceMessageID: messageID,
		Cursor:          numberField(entry, "cursor"),
		Topic:           topic,
		QueryRaw:        stringField(entry, "alert_query_raw", "query"),
		Items:           items,
	}, true
}

type rawExportItem struct {
	url     string
	title   string
	snippet string
}

func entryItems(entry map[string]any) []rawExportItem {
	if items, ok := entry["items"].([]any); ok {
		out := make([]rawExportItem, 0, len(items))
		for _, v := range items {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, rawExportItem{
				url:     asString(m["url"]),
				title:   asString(m["title"]),
				snippet: asString(m["snippet"]),
			})
		}
		return out
	}

	// Legacy parallel-array form.
	urls := stringList(entry["urls"])
	titles := stringList(entry["titles"])
	snippets := stringList(entry["snippets"])
	out := make([]rawExportItem, 0, len(urls))
	for i, u := range urls {
		it := rawExportItem{url: u, title: u}
		if i < len(titles) {
			it.title = titles[i]
		}
		if i < len(snippets) {
			it.snippet = snippets[i]
		}
		out = append(out, it)
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func stringField(entry map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(asString(entry[k])); s != "" {
			return s
		}
	}
	return ""
}

func numberField(entry map[string]any, key string) int64 {
	n, ok := entry[key].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, asString(e))
	}
	return out
}

// IngestConfig drives one ingestion pass over JSON export files.
type IngestConfig struct {
	Inputs       []string
	ArtifactsDir string
	// Source is the checkpoint scope the ingested messages belong to.
	Source string
}

// Ingest loads all configured export files, persists their payloads through
// the store's message-level dedup and writes the canonical artifact for the
// run. Returns the count of newly created items.
func Ingest(cfg IngestConfig, store *StateStore, runID string) (int, error) {
	var payloads []CanonicalPayload
	for _, in := range cfg.Inputs {
		ps, err := LoadJSONExport(in)
		if err != nil {
			return 0, err
		}
		payloads = append(payloads, ps...)
	}
	now := time.Now().UTC()
	for i := range payloads {
		payloads[i].Source = cfg.Source
		if payloads[i].ReceivedAt.IsZero() {
			payloads[i].ReceivedAt = now
		}
	}

	inserted, err := store.SaveItems(payloads)
	if err != nil {
		return inserted, err
	}
	if cfg.ArtifactsDir != "" {
		if err := writeCanonicalArtifact(cfg.ArtifactsDir, runID, payloads); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func writeCanonicalArtifact(dir, runID string, payloads []CanonicalPayload) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "canonical-"+runID+".json"), b, 0o644)
}
