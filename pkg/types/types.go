package types

import (
	"fmt"
	"time"
)

// SourceKind discriminates the two render source variants.
type SourceKind int

const (
	// SourceURL renders a remote page fetched over the network
	SourceURL SourceKind = iota
	// SourceHTML renders literal markup without any network fetch
	SourceHTML
)

// String returns a human-readable variant name for logs
func (k SourceKind) String() string {
	if k == SourceHTML {
		return "html"
	}
	return "url"
}

// Source is the render input: either a remote URL or literal HTML markup.
// The zero value is an empty URL source; construct via URLSource or HTMLSource.
type Source struct {
	kind  SourceKind
	value string
}

// URLSource creates a Source that navigates to a remote URL
func URLSource(url string) Source {
	return Source{kind: SourceURL, value: url}
}

// HTMLSource creates a Source that loads literal markup directly
func HTMLSource(html string) Source {
	return Source{kind: SourceHTML, value: html}
}

// Kind returns the source variant
func (s Source) Kind() SourceKind {
	return s.kind
}

// URL returns the target URL; only meaningful when Kind() == SourceURL
func (s Source) URL() string {
	return s.value
}

// HTML returns the literal markup; only meaningful when Kind() == SourceHTML
func (s Source) HTML() string {
	return s.value
}

// WaitCondition is a navigation wait condition, using the wire names of the
// original service API (load, domcontentloaded, networkidle0, networkidle2).
type WaitCondition string

const (
	WaitLoad              WaitCondition = "load"
	WaitDOMContentLoaded  WaitCondition = "domcontentloaded"
	WaitNetworkIdle       WaitCondition = "networkidle0"
	WaitNetworkAlmostIdle WaitCondition = "networkidle2"
)

// ParseWaitCondition validates a wire-format wait condition string
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch WaitCondition(s) {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, WaitNetworkAlmostIdle:
		return WaitCondition(s), nil
	}
	return "", fmt.Errorf("unknown waitUntil value %q (must be load, domcontentloaded, networkidle0 or networkidle2)", s)
}

// LifecycleEventName maps the wait condition to the page lifecycle event name
// emitted by the DevTools protocol.
func (w WaitCondition) LifecycleEventName() string {
	switch w {
	case WaitDOMContentLoaded:
		return "DOMContentLoaded"
	case WaitNetworkIdle:
		return "networkIdle"
	case WaitNetworkAlmostIdle:
		return "networkAlmostIdle"
	default:
		return "load"
	}
}

// PaperFormat names a standard paper size for PDF capture
type PaperFormat string

const (
	FormatLetter  PaperFormat = "Letter"
	FormatLegal   PaperFormat = "Legal"
	FormatTabloid PaperFormat = "Tabloid"
	FormatLedger  PaperFormat = "Ledger"
	FormatA0      PaperFormat = "A0"
	FormatA1      PaperFormat = "A1"
	FormatA2      PaperFormat = "A2"
	FormatA3      PaperFormat = "A3"
	FormatA4      PaperFormat = "A4"
	FormatA5      PaperFormat = "A5"
)

// ParsePaperFormat validates a paper format name
func ParsePaperFormat(s string) (PaperFormat, error) {
	switch PaperFormat(s) {
	case FormatLetter, FormatLegal, FormatTabloid, FormatLedger,
		FormatA0, FormatA1, FormatA2, FormatA3, FormatA4, FormatA5:
		return PaperFormat(s), nil
	}
	return "", fmt.Errorf("unknown paper format %q", s)
}

// MediaMode selects the CSS media type emulated during capture
type MediaMode string

const (
	MediaScreen MediaMode = "screen"
	MediaPrint  MediaMode = "print"
)

// ParseMediaMode validates a media mode name
func ParseMediaMode(s string) (MediaMode, error) {
	switch MediaMode(s) {
	case MediaScreen, MediaPrint:
		return MediaMode(s), nil
	}
	return "", fmt.Errorf("unknown media mode %q (must be screen or print)", s)
}

// Margins holds per-edge page margins as CSS-style length values
// ("10mm", "0.5in", "20" meaning pixels).
type Margins struct {
	Top    string `json:"top,omitempty"`
	Right  string `json:"right,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Left   string `json:"left,omitempty"`
}

// RenderJob is the immutable description of one render request. It is built
// by the HTTP layer from validated request data and consumed once by the
// render executor.
type RenderJob struct {
	RequestID string

	Source Source

	// Navigation wait conditions, satisfied in full before the page is
	// considered loaded. Empty means wait for "load".
	WaitUntil []WaitCondition

	// Optional element wait conditions; selector takes precedence when both
	// are set.
	WaitForSelector string
	WaitForXPath    string

	// BlockedPatterns are extra wildcard URL patterns whose sub-resource
	// requests are aborted during the render, on top of the built-in
	// ad and tracker list. Document requests are never blocked.
	BlockedPatterns []string

	HeaderTemplate string
	FooterTemplate string
	PaperFormat    PaperFormat // empty = engine default size
	MediaMode      MediaMode   // empty = no media emulation
	Margins        *Margins

	// NavigationTimeout bounds the LoadSource step for URL sources.
	NavigationTimeout time.Duration
	// Timeout bounds the whole render pipeline.
	Timeout time.Duration
}
