package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// NoteFormats are the extensions the E2E corpus is written in, rotated across
// notes. PDF, ODT and RTF are left out: there is no small generator for them
// that every extractor path accepts.
var NoteFormats = []string{
	".txt", ".md", ".rst",
	".docx", ".xlsx", ".pptx", ".odp", ".ods",
}

// EncodeNote renders a note's title and content in the given format. Each
// sentence becomes its own paragraph, slide, row or cell.
func EncodeNote(ext, title, content string) ([]byte, error) {
	paras := append([]string{title}, splitSentences(content)...)
	switch ext {
	case ".txt", ".rst":
		return []byte(strings.Join(paras, "\n\n")), nil
	case ".md":
		return []byte("# " + title + "\n\n" + strings.Join(paras[1:], "\n\n")), nil
	case ".docx":
		var b strings.Builder
		b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
		for _, p := range paras {
			b.WriteString(`<w:p><w:r><w:t xml:space="preserve">` + html.EscapeString(p) + `</w:t></w:r></w:p>`)
		}
		b.WriteString(`</w:body></w:document>`)
		return zipEntries(map[string]string{"word/document.xml": b.String()})
	case ".pptx":
		entries := map[string]string{}
		for i, p := range paras {
			entries[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
				html.EscapeString(p) + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
		}
		return zipEntries(entries)
	case ".odp":
		var b strings.Builder
		b.WriteString(`<office:document><office:body><draw:page>`)
		b.WriteString(`<text:h>` + html.EscapeString(title) + `</text:h>`)
		for _, p := range paras[1:] {
			b.WriteString(`<draw:text-box><text:p>` + html.EscapeString(p) + `</text:p></draw:text-box>`)
		}
		b.WriteString(`</draw:page></office:body></office:document>`)
		return zipEntries(map[string]string{"content.xml": b.String()})
	case ".ods":
		var b strings.Builder
		b.WriteString(`<office:document><office:body><table:table>`)
		for _, p := range paras {
			b.WriteString(`<table:table-row><table:table-cell><text:p>` + html.EscapeString(p) + `</text:p></table:table-cell></table:table-row>`)
		}
		b.WriteString(`</table:table></office:body></office:document>`)
		return zipEntries(map[string]string{"content.xml": b.String()})
	case ".xlsx":
		f := excelize.NewFile()
		defer f.Close()
		for i, p := range paras {
			if err := f.SetCellValue("Sheet1", fmt.Sprintf("A%d", i+1), p); err != nil {
				return nil, err
			}
		}
		var buf bytes.Buffer
		if _, err := f.WriteTo(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("no encoder for %q", ext)
	}
}

// WriteCorpus writes every note under dir, rotating through NoteFormats, and
// returns the corpus-relative path of each note keyed by note name.
func WriteCorpus(dir string, c *Corpus) (map[string]string, error) {
	paths := make(map[string]string, len(c.Notes))
	for i, n := range c.Notes {
		ext := NoteFormats[i%len(NoteFormats)]
		data, err := EncodeNote(ext, n.Title, n.Content)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", n.Name, err)
		}
		rel := n.Name + ext
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return nil, err
		}
		paths[n.Name] = rel
	}
	return paths, nil
}

func zipEntries(entries map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		fw, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitSentences(s string) []string {
	var out []string
	for _, part := range strings.SplitAfter(s, ". ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
