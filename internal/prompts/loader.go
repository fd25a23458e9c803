// Package prompts provides a loader for externalized LLM prompt templates.
// Prompt files are JSON objects keyed by agent, embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

// Template is a system instruction plus the user message sent with it
type Template struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// cache stores parsed prompt files to avoid repeated JSON parsing
var (
	cache   = make(map[string]map[string]Template)
	cacheMu sync.RWMutex
)

var placeholder = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

// Get retrieves a prompt template by filename and key.
// The filename should not include the path (e.g., "agents.json").
func Get(filename, key string) (Template, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return Template{}, err
	}

	tmpl, exists := prompts[key]
	if !exists {
		return Template{}, fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return tmpl, nil
}

// MustGet retrieves a prompt template, panicking if not found.
// Use this for prompts that are required at initialization time.
func MustGet(filename, key string) Template {
	tmpl, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return tmpl
}

// Render loads a template and fills both of its parts from data.
// Any placeholder left without a value is an error.
func Render(filename, key string, data map[string]string) (Template, error) {
	tmpl, err := Get(filename, key)
	if err != nil {
		return Template{}, err
	}
	var missing []string
	for _, name := range Unresolved(tmpl.System + tmpl.User) {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Template{}, fmt.Errorf("prompt %s/%s missing values for %s", filename, key, strings.Join(missing, ", "))
	}
	return Template{System: Format(tmpl.System, data), User: Format(tmpl.User, data)}, nil
}

// Format replaces template placeholders in the form {{.Key}} with values from data.
// Values are inserted verbatim and never re-expanded.
func Format(template string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if value, ok := data[key]; ok {
			return value
		}
		return m
	})
}

// Unresolved lists the distinct placeholder names still present in text
func Unresolved(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// loadFile loads and caches a prompt file.
func loadFile(filename string) (map[string]Template, error) {
	cacheMu.RLock()
	if prompts, exists := cache[filename]; exists {
		cacheMu.RUnlock()
		return prompts, nil
	}
	cacheMu.RUnlock()

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}

	var prompts map[string]Template
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()

	return prompts, nil
}

// ClearCache clears the prompt cache. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]Template)
	cacheMu.Unlock()
}

// List returns the prompt keys in a file, sorted.
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
