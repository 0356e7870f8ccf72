package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/affine-collab/cte/internal/crdt"
)

// SpecKind enumerates the block specifications the Markdown-to-block
// parser collaborator yields: "paragraph with optional
// heading level 1–3, bulleted/numbered list item, fenced code with
// language, table with rows of strings, blockquote."
type SpecKind string

const (
	SpecParagraph  SpecKind = "paragraph"
	SpecListItem   SpecKind = "list_item"
	SpecCode       SpecKind = "code"
	SpecTable      SpecKind = "table"
	SpecBlockquote SpecKind = "blockquote"
)

// BlockSpec is one lowered unit from the Markdown parser collaborator.
type BlockSpec struct {
	Kind         SpecKind
	Text         string
	HeadingLevel int // 1-3, 0 means not a heading
	Ordered      bool
	Language     string
	Rows         [][]string
}

// Parser is the interface contract for the external Markdown-to-block
// parser collaborator. DefaultParser below is a minimal in-repo
// implementation satisfying the contract so the engine is independently
// testable without the real external collaborator wired in.
type Parser interface {
	Parse(markdown string) ([]BlockSpec, error)
}

// DefaultParser is a small line-oriented Markdown lowering sufficient
// for the supported block kinds. It is not a general CommonMark parser.
type DefaultParser struct{}

// Parse lowers markdown into block specs, one per logical block (a
// contiguous run of table rows becomes one Table spec; a fenced code
// block becomes one Code spec covering every line between fences).
func (DefaultParser) Parse(markdown string) ([]BlockSpec, error) {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	var specs []BlockSpec

	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			var code []string
			i++
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				code = append(code, lines[i])
				i++
			}
			i++ // skip closing fence
			specs = append(specs, BlockSpec{Kind: SpecCode, Language: lang, Text: strings.Join(code, "\n")})

		case strings.HasPrefix(trimmed, ">"):
			var quote []string
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), ">") {
				quote = append(quote, strings.TrimPrefix(strings.TrimSpace(lines[i]), ">"))
				i++
			}
			specs = append(specs, BlockSpec{Kind: SpecBlockquote, Text: strings.TrimSpace(strings.Join(quote, "\n"))})

		case strings.HasPrefix(trimmed, "|"):
			var rows [][]string
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
				row := parseTableRow(lines[i])
				if !isSeparatorRow(row) {
					rows = append(rows, row)
				}
				i++
			}
			specs = append(specs, BlockSpec{Kind: SpecTable, Rows: rows})

		case strings.HasPrefix(trimmed, "# "), strings.HasPrefix(trimmed, "## "), strings.HasPrefix(trimmed, "### "):
			level := strings.Count(strings.SplitN(trimmed, " ", 2)[0], "#")
			text := strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			specs = append(specs, BlockSpec{Kind: SpecParagraph, HeadingLevel: level, Text: text})
			i++

		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			specs = append(specs, BlockSpec{Kind: SpecListItem, Text: strings.TrimSpace(trimmed[2:])})
			i++

		case isOrderedListLine(trimmed):
			specs = append(specs, BlockSpec{Kind: SpecListItem, Ordered: true, Text: orderedListText(trimmed)})
			i++

		default:
			var para []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" &&
				!strings.HasPrefix(strings.TrimSpace(lines[i]), "```") &&
				!strings.HasPrefix(strings.TrimSpace(lines[i]), ">") &&
				!strings.HasPrefix(strings.TrimSpace(lines[i]), "|") &&
				!strings.HasPrefix(strings.TrimSpace(lines[i]), "#") &&
				!strings.HasPrefix(strings.TrimSpace(lines[i]), "- ") &&
				!isOrderedListLine(strings.TrimSpace(lines[i])) {
				para = append(para, strings.TrimSpace(lines[i]))
				i++
			}
			specs = append(specs, BlockSpec{Kind: SpecParagraph, Text: strings.Join(para, " ")})
		}
	}
	return specs, nil
}

func isOrderedListLine(s string) bool {
	dot := strings.Index(s, ". ")
	if dot <= 0 {
		return false
	}
	_, err := strconv.Atoi(s[:dot])
	return err == nil
}

func orderedListText(s string) string {
	dot := strings.Index(s, ". ")
	return strings.TrimSpace(s[dot+2:])
}

func parseTableRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func isSeparatorRow(row []string) bool {
	for _, cell := range row {
		if strings.Trim(cell, "-: ") != "" {
			return false
		}
	}
	return true
}

// Lower maps each spec to a block of the appropriate flavour under
// parentID, allocating ids and wiring parent/children.
func Lower(doc *crdt.Doc, parentID string, specs []BlockSpec, actor string) error {
	t := NewTree(doc)
	for _, spec := range specs {
		props := map[string]interface{}{"text": spec.Text}
		var flavour Flavour
		switch spec.Kind {
		case SpecParagraph:
			flavour = FlavourParagraph
			if spec.HeadingLevel > 0 {
				props["type"] = "h" + strconv.Itoa(spec.HeadingLevel)
			} else {
				props["type"] = "text"
			}
		case SpecListItem:
			flavour = FlavourList
			if spec.Ordered {
				props["type"] = "numbered"
			} else {
				props["type"] = "bulleted"
			}
		case SpecCode:
			flavour = FlavourCode
			props["language"] = spec.Language
		case SpecBlockquote:
			flavour = FlavourParagraph
			props["type"] = "quote"
		case SpecTable:
			flavour = FlavourTable
			rowsJSON, _ := json.Marshal(spec.Rows)
			props = map[string]interface{}{"rows": string(rowsJSON)}
		default:
			continue
		}
		if _, err := t.AddBlock(parentID, flavour, props, PositionEnd, 0, actor); err != nil {
			return err
		}
	}
	return nil
}

// Render walks parentID's children and renders them back to Markdown,
// round-tripping Lower's output up to whitespace normalisation.
func Render(doc *crdt.Doc, parentID string) (string, error) {
	t := NewTree(doc)
	view, ok := t.Get(parentID)
	if !ok {
		return "", nil
	}
	var lines []string
	for _, childID := range view.Children {
		child, ok := t.Get(childID)
		if !ok {
			continue
		}
		lines = append(lines, renderBlock(child))
	}
	return strings.Join(lines, "\n\n"), nil
}

func renderBlock(b BlockView) string {
	typ, _ := b.Props["type"].(string)
	switch b.Flavour {
	case FlavourParagraph:
		switch typ {
		case "h1":
			return "# " + b.Text
		case "h2":
			return "## " + b.Text
		case "h3":
			return "### " + b.Text
		case "quote":
			return "> " + b.Text
		default:
			return b.Text
		}
	case FlavourList:
		if typ == "numbered" {
			return "1. " + b.Text
		}
		return "- " + b.Text
	case FlavourCode:
		lang, _ := b.Props["language"].(string)
		return "```" + lang + "\n" + b.Text + "\n```"
	case FlavourTable:
		rowsStr, _ := b.Props["rows"].(string)
		var rows [][]string
		_ = json.Unmarshal([]byte(rowsStr), &rows)
		var lines []string
		for i, row := range rows {
			lines = append(lines, "| "+strings.Join(row, " | ")+" |")
			if i == 0 {
				sep := make([]string, len(row))
				for j := range sep {
					sep[j] = "---"
				}
				lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
			}
		}
		return strings.Join(lines, "\n")
	default:
		return b.Text
	}
}
