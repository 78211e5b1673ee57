package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/pkg/types"
)

// DefaultRenderTimeout bounds a render whose job carries no explicit
// total deadline.
const DefaultRenderTimeout = 25 * time.Second

// maxErrorBodyBytes caps the response body snippet attached to
// navigation failures.
const maxErrorBodyBytes = 512

// Executor drives a single render against a borrowed instance:
// load, media emulation, wait conditions, capture. Every step runs
// under the job's total deadline.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an executor
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// renderState carries signals from CDP event listeners into the pipeline
type renderState struct {
	mu         sync.Mutex
	pageErrMsg string
	docReqID   network.RequestID
	docStatus  int64
	gotDoc     bool
	blocked    map[network.RequestID]struct{}
}

func (s *renderState) setPageError(msg string) {
	s.mu.Lock()
	if s.pageErrMsg == "" {
		s.pageErrMsg = msg
	}
	s.mu.Unlock()
}

func (s *renderState) pageError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageErrMsg
}

func (s *renderState) setDocResponse(id network.RequestID, status int64) {
	s.mu.Lock()
	if !s.gotDoc {
		s.gotDoc = true
		s.docReqID = id
		s.docStatus = status
	}
	s.mu.Unlock()
}

func (s *renderState) docResponse() (network.RequestID, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docReqID, s.docStatus, s.gotDoc
}

func (s *renderState) markBlocked(id network.RequestID) {
	s.mu.Lock()
	if s.blocked == nil {
		s.blocked = make(map[network.RequestID]struct{})
	}
	s.blocked[id] = struct{}{}
	s.mu.Unlock()
}

func (s *renderState) wasBlocked(id network.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[id]
	return ok
}

// Execute runs the render pipeline in a fresh tab and returns the PDF
// bytes. Failures come back as *types.RenderFailure with the step's
// failure kind; an unsolicited page error or an expired total deadline
// takes precedence over whatever the failing step reported.
func (e *Executor) Execute(ctx context.Context, instance *Instance, job *types.RenderJob) ([]byte, error) {
	total := job.Timeout
	if total <= 0 {
		total = DefaultRenderTimeout
	}

	tabCtx, tabCancel := instance.NewTab()
	defer tabCancel()

	runCtx, cancelRun := context.WithTimeout(tabCtx, total)
	defer cancelRun()

	// Caller cancellation (client gone, server shutdown) aborts the tab.
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	state := &renderState{}
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		e.handleTargetEvent(ev, state, cancelRun)
	})

	start := time.Now()
	e.logger.Debug("Render pipeline starting",
		zap.String("request_id", job.RequestID),
		zap.Int("instance_id", instance.ID),
		zap.Stringer("source", job.Source.Kind()),
		zap.Duration("timeout", total))

	if failure := e.setupInterception(runCtx, state, job); failure != nil {
		return nil, e.finalize(runCtx, state, job, failure)
	}
	if failure := e.loadSource(runCtx, state, job); failure != nil {
		return nil, e.finalize(runCtx, state, job, failure)
	}
	if failure := e.applyMediaMode(runCtx, job); failure != nil {
		return nil, e.finalize(runCtx, state, job, failure)
	}
	if failure := e.awaitConditions(runCtx, job); failure != nil {
		return nil, e.finalize(runCtx, state, job, failure)
	}
	pdf, failure := e.capturePDF(runCtx, job)
	if failure != nil {
		return nil, e.finalize(runCtx, state, job, failure)
	}

	e.logger.Info("Render pipeline complete",
		zap.String("request_id", job.RequestID),
		zap.Int("instance_id", instance.ID),
		zap.Int("pdf_bytes", len(pdf)),
		zap.Duration("duration", time.Since(start)))

	return pdf, nil
}

// handleTargetEvent reacts to unsolicited page events. A crash, a
// devtools detach, or an asynchronously reported sub-resource load
// failure aborts the render; the main document response is captured for
// navigation classification. Failures of requests the interceptor
// blocked on purpose are not page errors.
func (e *Executor) handleTargetEvent(ev interface{}, state *renderState, abort func()) {
	switch event := ev.(type) {
	case *inspector.EventTargetCrashed:
		state.setPageError("render target crashed")
		abort()
	case *inspector.EventDetached:
		state.setPageError(fmt.Sprintf("devtools connection detached: %s", event.Reason))
		abort()
	case *network.EventLoadingFailed:
		if event.Canceled || event.Type == network.ResourceTypeDocument {
			return
		}
		if state.wasBlocked(event.RequestID) {
			return
		}
		state.setPageError(fmt.Sprintf("%s load failed: %s",
			event.Type.String(), event.ErrorText))
		abort()
	case *network.EventResponseReceived:
		if event.Type == network.ResourceTypeDocument {
			state.setDocResponse(event.RequestID, event.Response.Status)
		}
	}
}

// finalize applies failure precedence: an unsolicited page error wins,
// then the total deadline, then the step's own classification. Expiry
// during the explicit wait step keeps its WaitConditionTimeout kind.
func (e *Executor) finalize(runCtx context.Context, state *renderState, job *types.RenderJob, failure *types.RenderFailure) error {
	result := failure
	if msg := state.pageError(); msg != "" {
		result = types.NewFailure(types.UnexpectedPageError, errors.New(msg))
	} else if errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
		failure.Kind != types.WaitConditionTimeout {
		result = types.NewFailure(types.RenderTimeout, runCtx.Err())
	}

	e.logger.Warn("Render pipeline failed",
		zap.String("request_id", job.RequestID),
		zap.String("failure_kind", string(result.Kind)),
		zap.Error(result))

	return result
}

// setupInterception enables network events and request interception,
// blocking sub-resource requests that match the blocklist.
func (e *Executor) setupInterception(ctx context.Context, state *renderState, job *types.RenderJob) *types.RenderFailure {
	blocklist := NewBlocklist(job.BlockedPatterns)

	err := chromedp.Run(ctx,
		network.Enable(),
		fetch.Enable(),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			chromedp.ListenTarget(actionCtx, func(ev interface{}) {
				event, ok := ev.(*fetch.EventRequestPaused)
				if !ok {
					return
				}
				go e.resolvePausedRequest(actionCtx, event, blocklist, state, job)
			})
			return nil
		}),
	)
	if err != nil {
		return types.NewFailure(types.UnexpectedPageError,
			fmt.Errorf("enabling request interception: %w", err))
	}
	return nil
}

// resolvePausedRequest decides a paused request's fate from the
// interception listener. Runs in its own goroutine so a slow CDP command
// never blocks event dispatch.
func (e *Executor) resolvePausedRequest(ctx context.Context, event *fetch.EventRequestPaused, blocklist *Blocklist, state *renderState, job *types.RenderJob) {
	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	c := chromedp.FromContext(cmdCtx)
	execCtx := cdp.WithExecutor(cmdCtx, c.Target)

	// The document request is never blocked; killing the page itself is
	// a job for validation, not the blocklist.
	if event.ResourceType != network.ResourceTypeDocument && blocklist.IsBlocked(event.Request.URL) {
		state.markBlocked(event.NetworkID)
		if err := fetch.FailRequest(event.RequestID, network.ErrorReasonAborted).Do(execCtx); err != nil {
			e.logger.Warn("Failed to block request",
				zap.String("request_id", job.RequestID),
				zap.String("url", event.Request.URL),
				zap.Error(err))
		}
		return
	}

	if err := fetch.ContinueRequest(event.RequestID).Do(execCtx); err != nil {
		e.logger.Warn("Failed to continue request, failing instead to prevent hang",
			zap.String("request_id", job.RequestID),
			zap.String("url", event.Request.URL),
			zap.Error(err))
		fetch.FailRequest(event.RequestID, network.ErrorReasonAborted).Do(execCtx)
	}
}

// loadSource brings the job's document into the tab
func (e *Executor) loadSource(ctx context.Context, state *renderState, job *types.RenderJob) *types.RenderFailure {
	if job.Source.Kind() == types.SourceURL {
		return e.navigate(ctx, state, job)
	}
	return e.setContent(ctx, job)
}

// navigate loads a URL and waits for the job's lifecycle conditions,
// all bounded by the navigation timeout when one is set. The main
// document response determines success: a missing response or a status
// outside 2xx is a navigation failure carrying a body snippet.
func (e *Executor) navigate(ctx context.Context, state *renderState, job *types.RenderJob) *types.RenderFailure {
	navCtx := ctx
	if job.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, job.NavigationTimeout)
		defer cancel()
	}

	runErr := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			// The watch goes up before the navigate command so lifecycle
			// events firing while Navigate is still in flight are not lost;
			// they are matched once the frame and loader are known.
			watch := newLifecycleWatch(job.WaitUntil)
			watch.listen(actionCtx)

			frameID, loaderID, errorText, _, err := page.Navigate(job.Source.URL()).Do(actionCtx)
			if err != nil {
				watch.stop()
				return err
			}
			if errorText != "" {
				watch.stop()
				return fmt.Errorf("navigation failed: %s", errorText)
			}
			watch.arm(string(frameID), string(loaderID))
			return watch.wait(actionCtx)
		}),
	)

	failure, fetchBody := classifyNavigation(runErr, state)
	if failure != nil && fetchBody {
		reqID, _, _ := state.docResponse()
		failure.Body = e.fetchBodySnippet(ctx, reqID)
	}
	return failure
}

// classifyNavigation turns the navigation outcome and the captured
// document response into a failure. The second return reports whether
// the caller should attach a response body snippet. A nil failure means
// the navigation succeeded.
func classifyNavigation(runErr error, state *renderState) (*types.RenderFailure, bool) {
	_, status, got := state.docResponse()

	if runErr != nil {
		// Failing before any document response arrived is
		// indistinguishable from a dead host; the total deadline is
		// handled by finalize.
		if !got {
			return types.NavigationFailed(0, ""), false
		}
		return types.NewFailure(types.NavigationFailure, runErr), false
	}
	if !got {
		return types.NavigationFailed(0, ""), false
	}
	if status < 200 || status > 299 {
		return types.NavigationFailed(int(status), ""), true
	}
	return nil, false
}

// fetchBodySnippet pulls a truncated response body for error reporting.
// Best effort: an empty snippet is fine.
func (e *Executor) fetchBodySnippet(ctx context.Context, reqID network.RequestID) string {
	var snippet string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		body, err := network.GetResponseBody(reqID).Do(actionCtx)
		if err != nil {
			return err
		}
		snippet = bodySnippet(body)
		return nil
	}))
	if err != nil {
		return ""
	}
	return snippet
}

// bodySnippet truncates a response body to the reportable size
func bodySnippet(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}

// setContent injects raw markup into the main frame and waits for the
// job's lifecycle conditions.
func (e *Executor) setContent(ctx context.Context, job *types.RenderJob) *types.RenderFailure {
	err := chromedp.Run(ctx,
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			tree, err := page.GetFrameTree().Do(actionCtx)
			if err != nil {
				return err
			}
			// No loader ID to match here; SetDocumentContent reuses the
			// frame, so filter on frame alone.
			watch := newLifecycleWatch(job.WaitUntil)
			watch.listen(actionCtx)
			watch.arm(string(tree.Frame.ID), "")
			if err := page.SetDocumentContent(tree.Frame.ID, job.Source.HTML()).Do(actionCtx); err != nil {
				watch.stop()
				return err
			}
			return watch.wait(actionCtx)
		}),
	)
	if err != nil {
		return types.NewFailure(types.ContentLoadFailure, err)
	}
	return nil
}

// lifecycleWatch waits for a navigation's lifecycle events. The frame
// and loader IDs of a navigation are only known after the navigate
// command returns, so events observed before arm are buffered and
// replayed against the filter once it is set. An empty loaderID matches
// any loader.
type lifecycleWatch struct {
	mu       sync.Mutex
	pending  map[string]bool
	buffered []*page.EventLifecycleEvent
	frameID  string
	loaderID string
	armed    bool
	done     chan struct{}
	stop     context.CancelFunc
}

func newLifecycleWatch(conditions []types.WaitCondition) *lifecycleWatch {
	w := &lifecycleWatch{
		pending: make(map[string]bool, len(conditions)),
		done:    make(chan struct{}),
		stop:    func() {},
	}
	for _, c := range conditions {
		w.pending[c.LifecycleEventName()] = true
	}
	if len(w.pending) == 0 {
		close(w.done)
	}
	return w
}

// listen subscribes the watch to the target's events until stop or wait
func (w *lifecycleWatch) listen(ctx context.Context) {
	listenerCtx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if event, ok := ev.(*page.EventLifecycleEvent); ok {
			w.observe(event)
		}
	})
}

func (w *lifecycleWatch) observe(event *page.EventLifecycleEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		w.buffered = append(w.buffered, event)
		return
	}
	w.matchLocked(event)
}

// arm sets the frame/loader filter and replays buffered events
func (w *lifecycleWatch) arm(frameID, loaderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	w.frameID = frameID
	w.loaderID = loaderID
	for _, event := range w.buffered {
		w.matchLocked(event)
	}
	w.buffered = nil
}

func (w *lifecycleWatch) matchLocked(event *page.EventLifecycleEvent) {
	if len(w.pending) == 0 {
		return
	}
	if string(event.FrameID) != w.frameID {
		return
	}
	if w.loaderID != "" && string(event.LoaderID) != w.loaderID {
		return
	}
	if !w.pending[event.Name] {
		return
	}
	delete(w.pending, event.Name)
	if len(w.pending) == 0 {
		close(w.done)
	}
}

// wait blocks until every pending event has fired or the context ends
func (w *lifecycleWatch) wait(ctx context.Context) error {
	defer w.stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyMediaMode emulates the requested CSS media type. A rejected
// emulation command means the page session is in a bad state.
func (e *Executor) applyMediaMode(ctx context.Context, job *types.RenderJob) *types.RenderFailure {
	if job.MediaMode == "" {
		return nil
	}
	err := chromedp.Run(ctx, emulation.SetEmulatedMedia().WithMedia(string(job.MediaMode)))
	if err != nil {
		return types.NewFailure(types.UnexpectedPageError,
			fmt.Errorf("media emulation %q failed: %w", job.MediaMode, err))
	}
	return nil
}

// awaitConditions blocks until the job's selector or XPath matches an
// element, bounded by the total deadline.
func (e *Executor) awaitConditions(ctx context.Context, job *types.RenderJob) *types.RenderFailure {
	var action chromedp.Action
	var target string

	switch {
	case job.WaitForSelector != "":
		target = job.WaitForSelector
		action = chromedp.WaitReady(job.WaitForSelector, chromedp.ByQuery)
	case job.WaitForXPath != "":
		target = job.WaitForXPath
		action = chromedp.WaitReady(job.WaitForXPath, chromedp.BySearch)
	default:
		return nil
	}

	if err := chromedp.Run(ctx, action); err != nil {
		return types.NewFailure(types.WaitConditionTimeout,
			fmt.Errorf("waiting for %q: %w", target, err))
	}
	return nil
}

// capturePDF prints the page
func (e *Executor) capturePDF(ctx context.Context, job *types.RenderJob) ([]byte, *types.RenderFailure) {
	params, err := buildPrintParams(job)
	if err != nil {
		return nil, types.NewFailure(types.CaptureFailure, err)
	}

	var pdf []byte
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		buf, _, err := params.Do(actionCtx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		return nil, types.NewFailure(types.CaptureFailure, err)
	}
	if len(pdf) == 0 {
		return nil, types.NewFailure(types.CaptureFailure, errors.New("printToPDF returned empty document"))
	}
	return pdf, nil
}
