// Package prompt renders the reasoning prompt from a template with named
// {slot} placeholders. Literal braces are written as {{ and }}.
package prompt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"skin-api/internal/vision"

	"github.com/valyala/fasttemplate"
)

const (
	SlotSkinData     = "skin_data"
	SlotUserQuestion = "user_question"

	lbraceTag = ":lbrace"
	rbraceTag = ":rbrace"
)

var (
	ErrTemplate = errors.New("template error")

	slotRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	//go:embed default_prompt.txt
	defaultTemplate string
)

// Template is parsed once and safe for concurrent use
type Template struct {
	tmpl  *fasttemplate.Template
	slots []string
}

// Parse validates text and records the slots it declares
func Parse(text string) (*Template, error) {
	escaped, slots, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	tmpl, err := fasttemplate.NewTemplate(escaped, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	return &Template{tmpl: tmpl, slots: slots}, nil
}

// tokenize walks text left to right. Doubled braces become reserved tags so
// "{{{skin_data}}}" renders as a slot wrapped in literal braces.
func tokenize(text string) (string, []string, error) {
	var b strings.Builder
	var slots []string
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				b.WriteString("{" + lbraceTag + "}")
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return "", nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrTemplate, i)
			}
			tag := text[i+1 : i+1+end]
			if !slotRe.MatchString(tag) {
				return "", nil, fmt.Errorf("%w: invalid slot name %q", ErrTemplate, tag)
			}
			if !slices.Contains(slots, tag) {
				slots = append(slots, tag)
			}
			b.WriteString("{" + tag + "}")
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				b.WriteString("{" + rbraceTag + "}")
				i++
				continue
			}
			return "", nil, fmt.Errorf("%w: single '}' at offset %d", ErrTemplate, i)
		default:
			b.WriteByte(text[i])
		}
	}
	return b.String(), slots, nil
}

// Default returns the embedded template
func Default() *Template {
	t, err := Parse(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt template: %s", err))
	}
	return t
}

// Load parses the template at path, or the embedded one when path is empty
func Load(path string) (*Template, error) {
	if path == "" {
		return Default(), nil
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return Parse(string(text))
}

// Slots declared by the template, in order of first use
func (t *Template) Slots() []string {
	return slices.Clone(t.slots)
}

// Render substitutes values; every declared slot must be supplied
func (t *Template) Render(values map[string]string) (string, error) {
	var missing []string
	for _, slot := range t.slots {
		if _, ok := values[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing values for slots %s", ErrTemplate, strings.Join(missing, ", "))
	}
	return t.tmpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case lbraceTag:
			return w.Write([]byte("{"))
		case rbraceTag:
			return w.Write([]byte("}"))
		}
		return w.Write([]byte(values[tag]))
	})
}

// Assemble renders the reasoning prompt from findings and the user's question
func Assemble(t *Template, findings vision.Findings, question string) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: no template", ErrTemplate)
	}
	skinData, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("%w: serialize findings: %w", ErrTemplate, err)
	}
	return t.Render(map[string]string{
		SlotSkinData:     string(skinData),
		SlotUserQuestion: question,
	})
}
