package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/cache"
	"github.com/yanizio/catalog/internal/llm"
	"github.com/yanizio/catalog/internal/logger"
)

// Model stage defaults.
const (
	DefaultBatchSize   = 10
	DefaultMaxTokens   = 1024
	DefaultCacheSize   = 2048
	maxPromptSamples   = 5
	modelSystemMessage = "You are a data catalog assistant. You describe database columns for business users. Reply with JSON only."
)

// ModelOptions tunes NewModelAnnotator.  Zero values take defaults.
type ModelOptions struct {
	MaxTokens   int
	Temperature float64
	BatchSize   int
	CacheSize   int
	Logger      *zap.SugaredLogger
}

// ModelAnnotator is the AI stage.  It implements BatchAnnotator.
type ModelAnnotator struct {
	chat      llm.Chatter
	maxTokens int
	temp      float64
	batchSize int
	cache     *cache.LRU[string, Description]
	log       *zap.SugaredLogger
}

// NewModelAnnotator wraps chat.
func NewModelAnnotator(chat llm.Chatter, o ModelOptions) *ModelAnnotator {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	return &ModelAnnotator{
		chat:      chat,
		maxTokens: o.MaxTokens,
		temp:      o.Temperature,
		batchSize: o.BatchSize,
		cache:     cache.New[string, Description](o.CacheSize),
		log:       logger.OrNop(o.Logger),
	}
}

type modelReply struct {
	ColumnName   string   `json:"column_name"`
	Description  string   `json:"description"`
	BusinessTerm string   `json:"business_term"`
	Tags         []string `json:"tags"`
	QualityHint  string   `json:"quality_hint"`
}

func (r modelReply) description() Description {
	return Description{
		Description:  strings.TrimSpace(r.Description),
		BusinessTerm: strings.TrimSpace(r.BusinessTerm),
		Tags:         r.Tags,
		QualityHint:  strings.TrimSpace(r.QualityHint),
		Source:       SourceAI,
	}
}

// UsesSamples is always true.  Samples go into the prompt.
func (m *ModelAnnotator) UsesSamples() bool { return true }

// Annotate asks the model about one column.
func (m *ModelAnnotator) Annotate(ctx context.Context, col Column) (Description, error) {
	key := cacheKey(col)
	if d, ok := m.cache.Get(key); ok {
		return d, nil
	}

	text, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: modelSystemMessage},
		{Role: "user", Content: singlePrompt(col)},
	}, m.maxTokens, m.temp)
	if err != nil {
		return Description{}, &Error{Stage: SourceAI, Column: col.Name, Err: err}
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(stripFences(text)), &reply); err != nil {
		return Description{}, &Error{Stage: SourceAI, Column: col.Name, Err: fmt.Errorf("malformed reply: %w", err)}
	}
	d := reply.description()
	if d.Empty() {
		return Description{}, &Error{Stage: SourceAI, Column: col.Name, Err: errors.New("empty description")}
	}
	m.cache.Add(key, d)
	return d, nil
}

// AnnotateBatch asks the model about cols in chunks of the batch size.
// Failed chunks are reported through the joined error; their columns are
// absent from the result.
func (m *ModelAnnotator) AnnotateBatch(ctx context.Context, cols []Column) (map[string]Description, error) {
	out := make(map[string]Description, len(cols))
	var todo []Column
	for _, col := range cols {
		if d, ok := m.cache.Get(cacheKey(col)); ok {
			out[col.Name] = d
			continue
		}
		todo = append(todo, col)
	}

	var errs []error
	for start := 0; start < len(todo); start += m.batchSize {
		end := min(start+m.batchSize, len(todo))
		if err := m.batch(ctx, todo[start:end], out); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func (m *ModelAnnotator) batch(ctx context.Context, chunk []Column, out map[string]Description) error {
	text, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: modelSystemMessage},
		{Role: "user", Content: batchPrompt(chunk)},
	}, m.maxTokens, m.temp)
	if err != nil {
		return &Error{Stage: SourceAI, Err: err}
	}

	var replies []modelReply
	if err := json.Unmarshal([]byte(stripFences(text)), &replies); err != nil {
		return &Error{Stage: SourceAI, Err: fmt.Errorf("malformed batch reply: %w", err)}
	}

	byName := make(map[string]Column, len(chunk))
	for _, col := range chunk {
		byName[strings.ToLower(col.Name)] = col
	}
	for _, r := range replies {
		col, ok := byName[strings.ToLower(strings.TrimSpace(r.ColumnName))]
		if !ok {
			continue
		}
		d := r.description()
		if d.Empty() {
			continue
		}
		out[col.Name] = d
		m.cache.Add(cacheKey(col), d)
	}
	m.log.Debugw("model batch annotated", "requested", len(chunk), "answered", len(replies))
	return nil
}

func cacheKey(col Column) string {
	return col.Table + "." + col.Name + ":" + col.Type
}

/*──────────────────────────── prompts ─────────────────────────────────────*/

func describeColumn(b *strings.Builder, col Column) {
	fmt.Fprintf(b, "Column name: %s\n", col.Name)
	fmt.Fprintf(b, "Data type: %s\n", col.Type)
	if col.Table != "" {
		fmt.Fprintf(b, "Table: %s\n", col.Table)
	}
	if col.Comment != "" {
		fmt.Fprintf(b, "Existing comment: %s\n", col.Comment)
	}
	if len(col.Samples) > 0 {
		s := col.Samples
		if len(s) > maxPromptSamples {
			s = s[:maxPromptSamples]
		}
		fmt.Fprintf(b, "Sample values: %s\n", strings.Join(s, ", "))
	}
}

func singlePrompt(col Column) string {
	var b strings.Builder
	b.WriteString("Describe this database column.\n\n")
	describeColumn(&b, col)
	b.WriteString(`
Respond with a JSON object:
{"description": "...", "business_term": "...", "tags": ["..."], "quality_hint": "..."}`)
	return b.String()
}

func batchPrompt(cols []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe these %d database columns.\n", len(cols))
	for i, col := range cols {
		fmt.Fprintf(&b, "\n#%d\n", i+1)
		describeColumn(&b, col)
	}
	b.WriteString(`
Respond with a JSON array, one object per column:
[{"column_name": "...", "description": "...", "business_term": "...", "tags": ["..."], "quality_hint": "..."}]`)
	return b.String()
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
