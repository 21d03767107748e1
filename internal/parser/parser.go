package parser

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/samber/lo"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"preik/internal/models"
	"preik/internal/textutil"
)

// ErrUnsupportedFormat is returned for file extensions without a parser
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrNoText is returned when a document contains no extractable text
var ErrNoText = errors.New("no extractable text found")

const defaultPageNumber = 1

var (
	slideName  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	docxBreaks = regexp.MustCompile(`</w:p>`)
	xmlTags    = regexp.MustCompile(`<[^>]+>`)
)

// SupportedExtensions lists the extensions Parse accepts
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".ods", ".md", ".markdown", ".txt", ".html", ".htm"}

// Parse extracts the text of a document page by page
func Parse(filePath string) ([]models.Page, error) {
	var (
		pages []models.Page
		err   error
	)

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".ods":
		pages, err = parseODS(filePath)
	case ".md", ".markdown":
		pages, err = parseWith(filePath, textutil.MarkdownToText)
	case ".html", ".htm":
		pages, err = parseWith(filePath, textutil.HTMLToText)
	case ".txt":
		pages, err = parseWith(filePath, strings.TrimSpace)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	pages = dropEmpty(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoText, filepath.Base(filePath))
	}
	return pages, nil
}

func parsePDF(filePath string) ([]models.Page, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []models.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Content: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// paragraph ends become blank lines so chunking can see them
	content := r.Editable().GetContent()
	content = docxBreaks.ReplaceAllString(content, "\n\n")
	content = xmlTags.ReplaceAllString(content, "")

	return []models.Page{{Number: defaultPageNumber, Content: unescapeXML(content)}}, nil
}

func parsePPTX(filePath string) ([]models.Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		pages = append(pages, models.Page{Number: slideNum, Content: extractTextFromXML(string(data))})
	}
	// zip order is not slide order
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("%s\n\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, strings.TrimSpace(cell.String()))
			}
			writeRow(&text, cells)
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Content: text.String()})
	}
	return pages, nil
}

func parseODS(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("%s\n\n", sheetName))
		for _, row := range rows {
			writeRow(&text, row)
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Content: text.String()})
	}
	return pages, nil
}

func parseWith(filePath string, convert func(string) string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []models.Page{{Number: defaultPageNumber, Content: convert(string(data))}}, nil
}

// writeRow writes the non-empty cells of a row on one line
func writeRow(b *strings.Builder, cells []string) {
	kept := lo.Compact(cells)
	if len(kept) == 0 {
		return
	}
	b.WriteString(strings.Join(kept, " | "))
	b.WriteString("\n")
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	// each <a:p> is a paragraph of the slide
	for _, para := range strings.Split(xmlContent, "</a:p>") {
		var line strings.Builder
		parts := strings.Split(para, "<a:t>")
		for i, part := range parts {
			if i == 0 {
				continue
			}
			endIdx := strings.Index(part, "</a:t>")
			if endIdx >= 0 {
				line.WriteString(part[:endIdx])
			}
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			text.WriteString(unescapeXML(s))
			text.WriteString("\n")
		}
	}
	return text.String()
}

var xmlEntities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

func dropEmpty(pages []models.Page) []models.Page {
	out := pages[:0]
	for _, p := range pages {
		p.Content = strings.TrimSpace(p.Content)
		if p.Content != "" {
			out = append(out, p)
		}
	}
	return out
}
