package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hooplab/pdf-renderer/internal/common/config"
	"github.com/hooplab/pdf-renderer/internal/common/requestid"
	"github.com/hooplab/pdf-renderer/internal/common/urlutil"
	"github.com/hooplab/pdf-renderer/internal/render/chrome"
	"github.com/hooplab/pdf-renderer/pkg/types"
)

const (
	// DefaultNavigationTimeout applies when navigationTimeoutMs is absent
	DefaultNavigationTimeout = 60 * time.Second
	// DefaultTotalTimeout applies when totalTimeoutMs is absent
	DefaultTotalTimeout = 60 * time.Second
)

// waitUntilList accepts either a single string or a list of strings, the
// way the original wire format does.
type waitUntilList []string

func (w *waitUntilList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*w = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("waitUntil must be a string or an array of strings")
	}
	*w = many
	return nil
}

// RenderRequest is the JSON body of POST /render
type RenderRequest struct {
	RequestID           string         `json:"requestId,omitempty"`
	URL                 string         `json:"url,omitempty"`
	HTML                string         `json:"html,omitempty"`
	WaitUntil           waitUntilList  `json:"waitUntil,omitempty"`
	WaitForSelector     string         `json:"waitForSelector,omitempty"`
	WaitForXPath        string         `json:"waitForXPath,omitempty"`
	BlockedPatterns     []string       `json:"blockedPatterns,omitempty"`
	HeaderTemplate      string         `json:"headerTemplate,omitempty"`
	FooterTemplate      string         `json:"footerTemplate,omitempty"`
	Format              string         `json:"format,omitempty"`
	Media               string         `json:"media,omitempty"`
	Margin              *types.Margins `json:"margin,omitempty"`
	NavigationTimeoutMs int64          `json:"navigationTimeoutMs,omitempty"`
	TotalTimeoutMs      int64          `json:"totalTimeoutMs,omitempty"`
}

// ParseRenderRequest decodes the request body
func ParseRenderRequest(body []byte) (*RenderRequest, error) {
	var req RenderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}
	return &req, nil
}

// BuildJob validates the request and translates it to a RenderJob.
// Defaults: waitUntil [load], both timeouts 60s; timeouts are capped by
// the configured render limits.
func (req *RenderRequest) BuildJob(renderConfig *config.RenderConfig) (*types.RenderJob, error) {
	job := &types.RenderJob{
		RequestID: requestid.Generate(req.RequestID),
	}

	switch {
	case req.URL != "" && req.HTML != "":
		return nil, fmt.Errorf("url and html are mutually exclusive")
	case req.URL != "":
		if err := urlutil.ValidateRenderURL(req.URL); err != nil {
			return nil, err
		}
		job.Source = types.URLSource(req.URL)
	case req.HTML != "":
		job.Source = types.HTMLSource(req.HTML)
	default:
		return nil, fmt.Errorf("either url or html is required")
	}

	if len(req.WaitUntil) == 0 {
		job.WaitUntil = []types.WaitCondition{types.WaitLoad}
	} else {
		for _, raw := range req.WaitUntil {
			cond, err := types.ParseWaitCondition(raw)
			if err != nil {
				return nil, err
			}
			job.WaitUntil = append(job.WaitUntil, cond)
		}
	}

	job.WaitForSelector = req.WaitForSelector
	job.WaitForXPath = req.WaitForXPath
	job.BlockedPatterns = req.BlockedPatterns
	job.HeaderTemplate = req.HeaderTemplate
	job.FooterTemplate = req.FooterTemplate

	if req.Format != "" {
		format, err := types.ParsePaperFormat(req.Format)
		if err != nil {
			return nil, err
		}
		job.PaperFormat = format
	}

	if req.Media != "" {
		media, err := types.ParseMediaMode(req.Media)
		if err != nil {
			return nil, err
		}
		job.MediaMode = media
	}

	if req.Margin != nil {
		for side, value := range map[string]string{
			"top":    req.Margin.Top,
			"right":  req.Margin.Right,
			"bottom": req.Margin.Bottom,
			"left":   req.Margin.Left,
		} {
			if value == "" {
				continue
			}
			if _, err := chrome.ParseMarginValue(value); err != nil {
				return nil, fmt.Errorf("margin %s: %v", side, err)
			}
		}
		job.Margins = req.Margin
	}

	navTimeout, err := timeoutFromMs(req.NavigationTimeoutMs, "navigationTimeoutMs",
		DefaultNavigationTimeout, time.Duration(renderConfig.NavigationMaxTimeout))
	if err != nil {
		return nil, err
	}
	job.NavigationTimeout = navTimeout

	totalTimeout, err := timeoutFromMs(req.TotalTimeoutMs, "totalTimeoutMs",
		DefaultTotalTimeout, time.Duration(renderConfig.MaxTimeout))
	if err != nil {
		return nil, err
	}
	job.Timeout = totalTimeout

	return job, nil
}

// timeoutFromMs applies the default for absent values and the configured
// cap for oversized ones
func timeoutFromMs(ms int64, field string, fallback, max time.Duration) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	d := time.Duration(ms) * time.Millisecond
	if d == 0 {
		d = fallback
	}
	if max > 0 && d > max {
		d = max
	}
	return d, nil
}
