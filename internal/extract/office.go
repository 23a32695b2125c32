package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	openDocumentContent = "content.xml"
)

var (
	// <w:t>, <a:t> and OpenDocument text runs, with any attributes
	docxText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	pptxText = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odfText  = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)

	overrideTag = regexp.MustCompile(`<Override\b[^>]*>`)
	partNameAt  = regexp.MustCompile(`PartName="([^"]+)"`)
	slideName   = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readEntry returns the named zip entry, or nil when it is absent.
func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// runs returns the unescaped, trimmed text of every match of re, in document order.
func runs(re *regexp.Regexp, xml []byte) []string {
	var out []string
	for _, m := range re.FindAllSubmatch(xml, -1) {
		if t := strings.TrimSpace(html.UnescapeString(string(m[1]))); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// docxMainPart finds the main document part from [Content_Types].xml, which
// may name something other than word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	types, err := readEntry(zr, contentTypesPath)
	if err != nil || types == nil {
		return docxDefaultPath
	}
	for _, tag := range overrideTag.FindAll(types, -1) {
		if !bytes.Contains(tag, []byte(`ContentType="`+docxMainContentType+`"`)) {
			continue
		}
		if m := partNameAt.FindSubmatch(tag); m != nil {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultPath
}

// extractDOCX joins the <w:t> runs of the main document part. It reads the
// XML directly rather than through a converter so that paragraphs carrying
// attributes are not lost.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	part := docxMainPart(zr)
	xml, err := readEntry(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	return strings.Join(runs(docxText, xml), " "), nil
}

// extractPPTX returns the text of each slide in slide order, one slide per line.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var lines []string
	for _, s := range slides {
		xml, err := readEntry(zr, s.file.Name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		if text := strings.Join(runs(pptxText, xml), " "); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// extractOpenDocument joins the text runs of content.xml.
func extractOpenDocument(content []byte, format string) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	xml, err := readEntry(zr, openDocumentContent)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, openDocumentContent)
	}
	return strings.Join(runs(odfText, xml), " "), nil
}

func extractODP(content []byte) (string, error) { return extractOpenDocument(content, "ODP") }

func extractODS(content []byte) (string, error) { return extractOpenDocument(content, "ODS") }
