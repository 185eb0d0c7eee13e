package parser

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"prompt-rag/internal/apperr"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	docxParagraph  = regexp.MustCompile(`</w:p>`)
	xmlTag         = regexp.MustCompile(`<[^>]+>`)
	slideNumber    = regexp.MustCompile(`slide(\d+)\.xml$`)
)

// ExtractText converts raw file bytes into plain text according to the content type.
// Parameters such as "; charset=utf-8" are ignored.
func ExtractText(data []byte, mimeType string) (string, error) {
	mt := normalizeMIME(mimeType)
	switch mt {
	case MIMEPlain:
		return strings.TrimSpace(string(data)), nil
	case MIMEMarkdown:
		return extractMarkdown(data)
	case MIMEHTML:
		return extractHTML(data), nil
	case MIMEJSON:
		return extractJSON(data), nil
	case MIMEPDF:
		return extractPDF(data)
	case MIMEDOCX:
		return extractDOCX(data)
	case MIMEXLSX:
		return extractXLSX(data)
	case MIMEXLSM:
		return extractXLSM(data)
	case MIMEPPTX:
		return extractPPTX(data)
	}

	if strings.HasPrefix(mt, "text/") {
		return strings.TrimSpace(string(data)), nil
	}
	return "", apperr.ErrUnsupportedType.Derive(fmt.Sprintf("unsupported content type: %s", mimeType)).
		WithDetail("mime_type", mimeType)
}

func extractionError(format string, err error) error {
	msg := fmt.Sprintf("failed to extract text from %s", format)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return apperr.Validation(msg).WithDetail("format", format)
}

// nonEmpty turns an empty extraction result into an error
func nonEmpty(format, text string) (string, error) {
	if text == "" {
		return "", extractionError(format, fmt.Errorf("no text content"))
	}
	return text, nil
}

// extractMarkdown walks the markdown AST and keeps only readable text.
// Code spans and blocks are dropped, links and images keep their text.
func extractMarkdown(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.CodeSpan, *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(data))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(data))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock, *east.TableRow, *east.TableHeader:
			if !entering {
				b.WriteByte('\n')
			}
		case *east.TableCell:
			if !entering {
				b.WriteByte('\t')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", extractionError("markdown", err)
	}
	return normalizeText(b.String()), nil
}

var inlineTags = map[string]bool{
	"a": true, "b": true, "i": true, "u": true, "em": true, "strong": true, "span": true,
	"small": true, "code": true, "sup": true, "sub": true, "mark": true, "abbr": true,
}

// extractHTML drops script and style bodies, comments and tags, then collapses whitespace
func extractHTML(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skipDepth++
			}
			if !inlineTags[tag] {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if !inlineTags[string(name)] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
			if !inlineTags[tag] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// extractJSON flattens a document into "key: value" fragments in source order.
// Anything that does not parse is returned unchanged.
func extractJSON(data []byte) string {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	out, _, err := flattenJSON(dec)
	if err != nil {
		return string(data)
	}
	if _, err := dec.Token(); err != io.EOF {
		return string(data)
	}
	return strings.TrimSpace(out)
}

// flattenJSON reads one value from dec; ok is false for null
func flattenJSON(dec *json.Decoder) (out string, ok bool, err error) {
	tok, err := dec.Token()
	if err != nil {
		return "", false, err
	}

	switch v := tok.(type) {
	case json.Delim:
		var parts []string
		switch v {
		case '{':
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return "", false, err
				}
				key, _ := keyTok.(string)
				val, present, err := flattenJSON(dec)
				if err != nil {
					return "", false, err
				}
				if present {
					parts = append(parts, key+": "+val)
				}
			}
		case '[':
			for dec.More() {
				val, present, err := flattenJSON(dec)
				if err != nil {
					return "", false, err
				}
				if present {
					parts = append(parts, val)
				}
			}
		default:
			return "", false, fmt.Errorf("unexpected delimiter %v", v)
		}
		if _, err := dec.Token(); err != nil {
			return "", false, err
		}
		return strings.Join(parts, " "), true, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case nil:
		return "", false, nil
	}
	return "", false, fmt.Errorf("unexpected token %v", tok)
}

func extractPDF(data []byte) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", extractionError("pdf", fmt.Errorf("%v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError("pdf", err)
	}

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", extractionError("pdf", fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, pageText)
	}

	return nonEmpty("pdf", normalizeText(strings.Join(pages, "\n")))
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError("docx", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxParagraph.ReplaceAllString(content, "\n")
	content = html.UnescapeString(xmlTag.ReplaceAllString(content, ""))
	return nonEmpty("docx", normalizeText(content))
}

func writeSheet(b *strings.Builder, name string, rows [][]string) {
	fmt.Fprintf(b, "Sheet: %s\n", name)
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func extractXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", extractionError("xlsx", err)
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		writeSheet(&b, sheet.Name, rows)
	}
	return nonEmpty("xlsx", normalizeText(b.String()))
}

// extractXLSM reads macro-enabled workbooks through excelize
func extractXLSM(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", extractionError("xlsm", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		writeSheet(&b, sheetName, rows)
	}
	return nonEmpty("xlsm", normalizeText(b.String()))
}

func extractPPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError("pptx", err)
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range zr.File {
		m := slideNumber.FindStringSubmatch(file.Name)
		if m == nil || !strings.HasPrefix(file.Name, "ppt/slides/") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, text: extractTextRuns(string(content))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		if t := strings.TrimSpace(s.text); t != "" {
			parts = append(parts, t)
		}
	}
	return nonEmpty("pptx", normalizeText(strings.Join(parts, "\n\n")))
}

// extractTextRuns collects the <a:t> runs of a slide
func extractTextRuns(xmlContent string) string {
	var b strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			b.WriteString(html.UnescapeString(part[:end]))
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// normalizeText unifies line endings, caps blank runs at one empty line and trims
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
