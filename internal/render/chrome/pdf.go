package chrome

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/page"

	"github.com/hooplab/pdf-renderer/pkg/types"
)

// paperDimensions maps a paper format to its width and height in inches,
// the unit Chrome's printToPDF expects.
var paperDimensions = map[types.PaperFormat][2]float64{
	types.FormatLetter:  {8.5, 11},
	types.FormatLegal:   {8.5, 14},
	types.FormatTabloid: {11, 17},
	types.FormatLedger:  {17, 11},
	types.FormatA0:      {33.1, 46.8},
	types.FormatA1:      {23.4, 33.1},
	types.FormatA2:      {16.54, 23.4},
	types.FormatA3:      {11.7, 16.54},
	types.FormatA4:      {8.27, 11.7},
	types.FormatA5:      {5.83, 8.27},
}

// ParseMarginValue converts a CSS-style length ("10mm", "0.5in", "2cm",
// "96px" or a bare pixel number) to inches.
func ParseMarginValue(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty margin value")
	}

	unit := "px"
	number := value
	for _, u := range []string{"px", "in", "cm", "mm"} {
		if strings.HasSuffix(value, u) {
			unit = u
			number = strings.TrimSuffix(value, u)
			break
		}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid margin value %q", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("margin value %q must not be negative", value)
	}

	switch unit {
	case "px":
		return n / 96.0, nil
	case "in":
		return n, nil
	case "cm":
		return n / 2.54, nil
	case "mm":
		return n / 25.4, nil
	}
	return 0, fmt.Errorf("unsupported margin unit in %q", value)
}

// buildPrintParams translates the job's layout options into printToPDF
// parameters. Unset options keep Chrome's defaults.
func buildPrintParams(job *types.RenderJob) (*page.PrintToPDFParams, error) {
	params := page.PrintToPDF().WithPrintBackground(true)

	if job.PaperFormat != "" {
		dims, ok := paperDimensions[job.PaperFormat]
		if !ok {
			return nil, fmt.Errorf("unknown paper format %q", job.PaperFormat)
		}
		params = params.WithPaperWidth(dims[0]).WithPaperHeight(dims[1])
	}

	if job.Margins != nil {
		m := job.Margins
		if m.Top != "" {
			v, err := ParseMarginValue(m.Top)
			if err != nil {
				return nil, fmt.Errorf("margin top: %w", err)
			}
			params = params.WithMarginTop(v)
		}
		if m.Right != "" {
			v, err := ParseMarginValue(m.Right)
			if err != nil {
				return nil, fmt.Errorf("margin right: %w", err)
			}
			params = params.WithMarginRight(v)
		}
		if m.Bottom != "" {
			v, err := ParseMarginValue(m.Bottom)
			if err != nil {
				return nil, fmt.Errorf("margin bottom: %w", err)
			}
			params = params.WithMarginBottom(v)
		}
		if m.Left != "" {
			v, err := ParseMarginValue(m.Left)
			if err != nil {
				return nil, fmt.Errorf("margin left: %w", err)
			}
			params = params.WithMarginLeft(v)
		}
	}

	if job.HeaderTemplate != "" || job.FooterTemplate != "" {
		header := job.HeaderTemplate
		if header == "" {
			header = "<span></span>"
		}
		footer := job.FooterTemplate
		if footer == "" {
			footer = "<span></span>"
		}
		params = params.WithDisplayHeaderFooter(true).
			WithHeaderTemplate(header).
			WithFooterTemplate(footer)
	}

	return params, nil
}
