package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// resolvePath canonicalizes path and, when workspaceDir is non-empty,
// rejects anything that resolves outside it.
func resolvePath(path, workspaceDir string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = abs
		} else {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	}
	if workspaceDir == "" {
		return resolved, nil
	}
	allowed, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	if allowedReal, err := filepath.EvalSymlinks(allowed); err == nil {
		allowed = allowedReal
	}
	rel, err := filepath.Rel(allowed, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is outside workspace %q", path, workspaceDir)
	}
	return resolved, nil
}

// ReadFileTool reads a file's full text content.
type ReadFileTool struct{ WorkspaceDir string }

func NewReadFileTool(workspaceDir string) *ReadFileTool { return &ReadFileTool{WorkspaceDir: workspaceDir} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file at the given path." }

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The file path to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Path == "" {
		return "Error: missing 'path' parameter", nil
	}
	resolved, err := resolvePath(in.Path, t.WorkspaceDir)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: file not found: %s", in.Path), nil
	}
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: not a file: %s", in.Path), nil
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return "Error reading file: " + err.Error(), nil
	}
	return string(content), nil
}

// WriteFileTool writes text content to a file, creating parent
// directories as needed.
type WriteFileTool struct{ WorkspaceDir string }

func NewWriteFileTool(workspaceDir string) *WriteFileTool { return &WriteFileTool{WorkspaceDir: workspaceDir} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "The file path to write to"},
			"content": map[string]any{"type": "string", "description": "The content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "Error: invalid parameters", nil
	}
	if in.Path == "" {
		return "Error: missing 'path' parameter", nil
	}

	parent := filepath.Dir(in.Path)
	if _, err := resolvePath(parent, t.WorkspaceDir); err != nil {
		// parent may not exist yet; re-check against the workspace boundary
		// using the absolute form instead of failing closed.
		absParent, aerr := filepath.Abs(parent)
		if aerr != nil {
			return "Error: " + aerr.Error(), nil
		}
		if t.WorkspaceDir != "" {
			allowed, aerr := filepath.Abs(t.WorkspaceDir)
			if aerr != nil {
				return "Error: " + aerr.Error(), nil
			}
			rel, rerr := filepath.Rel(allowed, absParent)
			if rerr != nil || strings.HasPrefix(rel, "..") {
				return fmt.Sprintf("Error: path %q is outside workspace %q", in.Path, t.WorkspaceDir), nil
			}
		}
	}

	absPath, err := filepath.Abs(in.Path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "Error creating parent directories: " + err.Error(), nil
	}
	if err := os.WriteFile(absPath, []byte(in.Content), 0o644); err != nil {
		return "Error writing file: " + err.Error(), nil
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(in.Content), in.Path), nil
}

// EditFileTool replaces one exact occurrence of old_text with new_text.
type EditFileTool struct{ WorkspaceDir string }

func NewEditFileTool(workspaceDir string) *EditFileTool { return &EditFileTool{WorkspaceDir: workspaceDir} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly in the file."
}

func (t *EditFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":     map[string]any{"type": "string", "description": "The file path to edit"},
			"old_text": map[string]any{"type": "string", "description": "The exact text to find and replace"},
			"new_text": map[string]any{"type": "string", "description": "The text to replace with"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "Error: invalid parameters", nil
	}
	if in.Path == "" || in.OldText == "" {
		return "Error: missing 'path' or 'old_text' parameter", nil
	}
	resolved, err := resolvePath(in.Path, t.WorkspaceDir)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", in.Path), nil
		}
		return "Error reading file: " + err.Error(), nil
	}
	content := string(raw)
	count := strings.Count(content, in.OldText)
	if count == 0 {
		return "Error: old_text not found in file. Make sure it matches exactly.", nil
	}
	if count > 1 {
		return fmt.Sprintf("Warning: old_text appears %d times. Please provide more context to make it unique.", count), nil
	}
	updated := strings.Replace(content, in.OldText, in.NewText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "Error writing file: " + err.Error(), nil
	}
	return fmt.Sprintf("Successfully edited %s", in.Path), nil
}

// ListDirTool lists a directory's immediate children.
type ListDirTool struct{ WorkspaceDir string }

func NewListDirTool(workspaceDir string) *ListDirTool { return &ListDirTool{WorkspaceDir: workspaceDir} }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the contents of a directory." }

func (t *ListDirTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The directory path to list"},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Path == "" {
		return "Error: missing 'path' parameter", nil
	}
	resolved, err := resolvePath(in.Path, t.WorkspaceDir)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: directory not found: %s", in.Path), nil
	}
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: not a directory: %s", in.Path), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "Error reading directory: " + err.Error(), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", in.Path), nil
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "file "
		if e.IsDir() {
			prefix = "dir  "
		}
		items = append(items, prefix+e.Name())
	}
	sort.Strings(items)
	return strings.Join(items, "\n"), nil
}

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

func guardCommand(command string) error {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, p := range denyPatterns {
		if p.MatchString(lower) {
			return fmt.Errorf("command blocked by safety guard (dangerous pattern detected)")
		}
	}
	return nil
}

const execMaxOutputChars = 10000

// ExecTool runs a shell command and returns its combined output, refusing
// commands that match a small set of destructive patterns.
type ExecTool struct {
	WorkingDir string
	Timeout    time.Duration
	runner     commandRunner
}

type commandRunner func(ctx context.Context, command, cwd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)

func NewExecTool(workingDir string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{WorkingDir: workingDir, Timeout: timeout, runner: runShellCommand}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}

func (t *ExecTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "The shell command to execute"},
			"working_dir": map[string]any{"type": "string", "description": "Optional working directory for the command"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Command    string `json:"command"`
		WorkingDir string `json:"working_dir"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.Command) == "" {
		return "Error: missing 'command' parameter", nil
	}
	if err := guardCommand(in.Command); err != nil {
		return "Error: " + err.Error(), nil
	}

	cwd := in.WorkingDir
	if cwd == "" {
		cwd = t.WorkingDir
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	runner := t.runner
	if runner == nil {
		runner = runShellCommand
	}
	stdout, stderr, exitCode, err := runner(ctx, in.Command, cwd, t.Timeout)
	if err != nil {
		return "Error executing command: " + err.Error(), nil
	}

	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, "STDERR:\n"+stderr)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))
	}
	result := strings.Join(parts, "\n")
	if result == "" {
		result = "(no output)"
	}
	if len(result) > execMaxOutputChars {
		result = fmt.Sprintf("%s\n... (truncated, %d more chars)", result[:execMaxOutputChars], len(result)-execMaxOutputChars)
	}
	return result, nil
}

const (
	webUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"
	webMaxRedirs  = 5
	webDefMaxRead = 50000
)

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	anyTagRe    = regexp.MustCompile(`<[^>]+>`)
	titleRe     = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	bodyRe      = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	multiSpace  = regexp.MustCompile(`[ \t]+`)
	multiNL     = regexp.MustCompile(`\n{3,}`)
)

func stripTags(text string) string {
	text = scriptTagRe.ReplaceAllString(text, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = anyTagRe.ReplaceAllString(text, "")
	replacer := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", `"`, "&#39;", "'")
	return strings.TrimSpace(replacer.Replace(text))
}

func normalizeWhitespace(text string) string {
	text = multiSpace.ReplaceAllString(text, " ")
	text = multiNL.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func extractReadableContent(html string) string {
	body := html
	if m := bodyRe.FindStringSubmatch(html); len(m) == 2 {
		body = m[1]
	}
	content := normalizeWhitespace(stripTags(body))
	if m := titleRe.FindStringSubmatch(html); len(m) == 2 {
		title := stripTags(m[1])
		if title != "" {
			return fmt.Sprintf("# %s\n\n%s", title, content)
		}
	}
	return content
}

// WebFetchTool fetches a URL and extracts its readable text content. A
// plain HTTP GET is used by default; when the caller sets render_js, the
// page is rendered in headless Chromium via jsRenderer instead. A static
// fetch that returns an empty client-rendered shell is not retried with
// the renderer.
type WebFetchTool struct {
	Client     *http.Client
	MaxChars   int
	jsRenderer *jsRenderer
	jsOnce     sync.Once
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= webMaxRedirs {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		MaxChars: webDefMaxRead,
	}
}

// Close shuts down the headless browser backing render_js fetches, if
// one was ever started. Safe to call even when it never was.
func (t *WebFetchTool) Close() error {
	if t.jsRenderer != nil {
		return t.jsRenderer.Close()
	}
	return nil
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract readable content (HTML to text). Set render_js for pages that need JavaScript to populate their content."
}

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":       map[string]any{"type": "string", "description": "URL to fetch"},
			"max_chars": map[string]any{"type": "integer", "minimum": 100, "description": "Maximum characters to return"},
			"render_js": map[string]any{"type": "boolean", "description": "Render the page in a headless browser before extracting text"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
		RenderJS bool   `json:"render_js"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.URL == "" {
		return "Error: missing 'url' parameter", nil
	}

	parsed, err := url.ParseRequestURI(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		payload, _ := json.Marshal(map[string]any{"error": "only http/https URLs are allowed", "url": in.URL})
		return string(payload), nil
	}

	maxChars := in.MaxChars
	if maxChars <= 0 {
		maxChars = t.MaxChars
	}

	if in.RenderJS {
		return t.executeRendered(in.URL, maxChars)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.Client.Do(req)
	if err != nil {
		return "Error: request failed: " + err.Error(), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "Error: failed to read response: " + err.Error(), nil
	}

	contentType := resp.Header.Get("Content-Type")
	html := string(body)
	var text, extractor string
	lower := strings.ToLower(strings.TrimSpace(html))
	switch {
	case strings.Contains(contentType, "application/json"):
		var v any
		if json.Unmarshal(body, &v) == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				text = string(pretty)
			} else {
				text = html
			}
		} else {
			text = html
		}
		extractor = "json"
	case strings.Contains(contentType, "text/html") || strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html"):
		text = extractReadableContent(html)
		extractor = "simple"
	default:
		text = html
		extractor = "raw"
	}

	truncated := len(text) > maxChars
	if truncated {
		text = text[:maxChars]
	}

	payload, _ := json.Marshal(map[string]any{
		"url":       in.URL,
		"final_url": resp.Request.URL.String(),
		"status":    resp.StatusCode,
		"extractor": extractor,
		"truncated": truncated,
		"length":    len(text),
		"text":      text,
	})
	return string(payload), nil
}

// executeRendered serves a render_js request by driving a headless
// Chromium page, starting it lazily on first use.
func (t *WebFetchTool) executeRendered(rawURL string, maxChars int) (string, error) {
	t.jsOnce.Do(func() { t.jsRenderer = newJSRenderer() })

	text, err := t.jsRenderer.render(rawURL, t.Client.Timeout)
	if err != nil {
		payload, _ := json.Marshal(map[string]any{"error": "render failed: " + err.Error(), "url": rawURL})
		return string(payload), nil
	}

	truncated := len(text) > maxChars
	if truncated {
		text = text[:maxChars]
	}
	payload, _ := json.Marshal(map[string]any{
		"url":       rawURL,
		"extractor": "chromium",
		"truncated": truncated,
		"length":    len(text),
		"text":      text,
	})
	return string(payload), nil
}

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	APIKey     string
	MaxResults int
	Client     *http.Client
}

func NewWebSearchTool(apiKey string) *WebSearchTool {
	if apiKey == "" {
		apiKey = os.Getenv("BRAVE_API_KEY")
	}
	return &WebSearchTool{APIKey: apiKey, MaxResults: 5, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web. Returns titles, URLs, and snippets." }

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
			"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of results (1-10)"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Query == "" {
		return "Error: missing 'query' parameter", nil
	}
	count := in.Count
	if count <= 0 {
		count = t.MaxResults
	}
	if count > 10 {
		count = 10
	}
	if count < 1 {
		count = 1
	}
	if t.APIKey == "" {
		return "Error: BRAVE_API_KEY not configured", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.search.brave.com/res/v1/web/search", nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	q := req.URL.Query()
	q.Set("q", in.Query)
	q.Set("count", fmt.Sprint(count))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.APIKey)

	resp, err := t.Client.Do(req)
	if err != nil {
		return "Error: request failed: " + err.Error(), nil
	}
	defer resp.Body.Close()

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "Error: failed to parse response: " + err.Error(), nil
	}

	if len(data.Web.Results) == 0 {
		return fmt.Sprintf("No results for: %s", in.Query), nil
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Results for: %s\n", in.Query))
	for i, item := range data.Web.Results {
		if i >= count {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Description != "" {
			lines = append(lines, "   "+item.Description)
		}
	}
	return strings.Join(lines, "\n"), nil
}
