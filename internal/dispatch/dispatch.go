// Package dispatch implements the per-table worker and its request/response
// wire contract from §6: one long-lived Worker owns a table's Store and
// Maintainer, serialises every client request through a single request
// queue, runs the maintainer's idle loop on a sibling goroutine, and
// routes dynamically-named operations to the store's methods.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/josiahcarlson/yogatable/internal/config"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/maintainer"
	"github.com/josiahcarlson/yogatable/internal/query"
	"github.com/josiahcarlson/yogatable/internal/store"
)

// ErrReservedOperation reports a request naming an underscore-prefixed
// operation other than the _quit sentinel (§6's "guard the dispatch
// against reserved/private names").
var ErrReservedOperation = errors.New("dispatch: reserved operation name")

// ErrUnknownOperation reports a request naming an operation the table
// store does not expose.
var ErrUnknownOperation = errors.New("dispatch: unknown operation")

const quitOp = "_quit"

// Request is one (caller_id, seq, operation_name, args, kwargs) tuple.
type Request struct {
	CallerID string
	Seq      int64
	Op       string
	Args     []interface{}
	Kwargs   map[string]interface{}
}

// ResponseKind distinguishes the four payload shapes §6 names.
type ResponseKind int

const (
	KindOK ResponseKind = iota
	KindException
	KindIndexes
	KindQuit
)

// Response is one routed reply. Unsolicited Indexes/Quit notices carry
// an empty CallerID and a zero Seq, matching the wire contract's
// (null, null, ...) convention.
type Response struct {
	CallerID string
	Seq      int64
	Kind     ResponseKind
	Value    interface{}
	ExcName  string
	ExcArgs  []interface{}
}

// Worker owns one table's Store and Maintainer and serialises all
// access to them through in, draining it cooperatively with the
// maintainer's idle loop per §5.
type Worker struct {
	store      *store.Store
	maintainer *maintainer.Maintainer
	log        *slog.Logger

	in  chan Request
	out chan Response
}

// NewWorker constructs a Worker over an already-open Store, sized with
// a bounded request queue.
func NewWorker(s *store.Store, cfg config.Config, queueDepth int) *Worker {
	return &Worker{
		store:      s,
		maintainer: maintainer.New(s, cfg),
		log:        slog.With("component", "dispatch"),
		in:         make(chan Request, queueDepth),
		out:        make(chan Response, queueDepth),
	}
}

// Submit enqueues a request, blocking only if the queue is full.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	select {
	case w.in <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses exposes the worker's outbound response stream.
func (w *Worker) Responses() <-chan Response { return w.out }

// Run drives the worker until ctx is cancelled or a _quit request is
// processed, interleaving request handling with the maintainer's
// three-phase idle loop (§4.4, §5). It always emits a final Quit
// notice before returning, matching the graceful-drain contract.
func (w *Worker) Run(ctx context.Context) error {
	defer func() { w.out <- Response{Kind: KindQuit} }()

	done := make(chan struct{})
	defer close(done)

	pending := func() bool {
		select {
		case <-done:
			return false
		default:
		}
		return len(w.in) > 0
	}

	maintCtx, cancelMaint := context.WithCancel(ctx)
	defer cancelMaint()
	maintErr := make(chan error, 1)
	go func() { maintErr <- w.maintainer.Run(maintCtx, pending) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.in:
			if req.Op == quitOp {
				return nil
			}
			w.handle(ctx, req)
		case <-time.After(time.Millisecond):
			// Yields to the maintainer goroutine's idle turns between
			// requests; the request channel is polled again immediately.
		}
	}
}

// handle routes one request to the table store, converting panics and
// errors into an exception-shaped response rather than crashing the
// worker (§5's "any exception... is converted into an
// UnknownExceptionError response").
func (w *Worker) handle(ctx context.Context, req Request) {
	defer func() {
		if r := recover(); r != nil {
			w.reply(req, Response{Kind: KindException, ExcName: "UnknownExceptionError", ExcArgs: []interface{}{fmt.Sprint(r)}})
		}
	}()
	if strings.HasPrefix(req.Op, "_") {
		w.reply(req, Response{Kind: KindException, ExcName: "ReservedOperationError", ExcArgs: []interface{}{req.Op}})
		return
	}

	value, err := w.call(ctx, req)
	if err != nil {
		name := exceptionName(err)
		w.reply(req, Response{Kind: KindException, ExcName: name, ExcArgs: []interface{}{err.Error()}})
		return
	}
	w.reply(req, Response{Kind: KindOK, Value: value})

	if req.Op == "add_index" || req.Op == "drop_index" {
		w.out <- Response{Kind: KindIndexes, Value: w.store.Indexes()}
	}
}

func (w *Worker) reply(req Request, resp Response) {
	resp.CallerID = req.CallerID
	resp.Seq = req.Seq
	w.out <- resp
}

// call is the flat RPC dispatch table §9 calls for: a small enum of
// operation names matched against the store's exported methods, since
// Go has no dynamic attribute lookup to mirror the source's approach.
func (w *Worker) call(ctx context.Context, req Request) (interface{}, error) {
	switch req.Op {
	case "insert":
		docs, policy, err := docsAndPolicy(req)
		if err != nil {
			return nil, err
		}
		return w.store.Insert(ctx, docs, policy)
	case "update":
		doc, ok := firstArgDoc(req)
		if !ok {
			return nil, fmt.Errorf("%w: update needs a document", ErrUnknownOperation)
		}
		return nil, w.store.Update(ctx, doc, w.indexRowPolicy())
	case "delete":
		ids, err := stringArgs(req)
		if err != nil {
			return nil, err
		}
		return nil, w.store.Delete(ctx, ids)
	case "get":
		ids, err := stringArgs(req)
		if err != nil {
			return nil, err
		}
		return w.store.Get(ctx, ids)
	case "add_index":
		specs, err := stringArgs(req)
		if err != nil {
			return nil, err
		}
		return w.store.AddIndex(ctx, specs)
	case "drop_index":
		specs, err := stringArgs(req)
		if err != nil {
			return nil, err
		}
		return nil, w.store.DropIndex(ctx, specs)
	case "get_drop_key":
		return w.store.GetDropKey(ctx)
	case "drop_table":
		key, _ := req.Kwargs["key"].(string)
		return nil, w.store.DropTable(ctx, key)
	case "search":
		filters, order, limit, offset := searchArgs(req)
		return w.store.Search(ctx, filters, order, limit, offset)
	case "count":
		filters, _, _, _ := searchArgs(req)
		return w.store.Count(ctx, filters)
	case "indexes":
		return w.store.Indexes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Op)
	}
}

func (w *Worker) indexRowPolicy() indexrow.Policy {
	return indexrow.DefaultPolicy()
}

func exceptionName(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, store.ErrBadColumnName):
		return "BadColumnNameError"
	case errors.Is(err, store.ErrDuplicateOrPrefix):
		return "DuplicateOrPrefixError"
	case errors.Is(err, store.ErrIndexWarning):
		return "IndexWarning"
	case errors.Is(err, store.ErrInvalidDropKey):
		return "InvalidDropKeyError"
	case errors.Is(err, store.ErrMissingID):
		return "MissingIDError"
	case errors.Is(err, query.ErrNoCoveringIndex):
		return "TableIndexError"
	case errors.Is(err, query.ErrMalformedFilter):
		return "MalformedFilterError"
	default:
		return "UnknownExceptionError"
	}
}

func docsAndPolicy(req Request) ([]map[string]interface{}, indexrow.Policy, error) {
	var docs []map[string]interface{}
	for _, a := range req.Args {
		if d, ok := a.(map[string]interface{}); ok {
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return nil, indexrow.Policy{}, fmt.Errorf("%w: insert needs at least one document", ErrUnknownOperation)
	}
	return docs, indexrow.DefaultPolicy(), nil
}

func firstArgDoc(req Request) (map[string]interface{}, bool) {
	if len(req.Args) == 0 {
		return nil, false
	}
	d, ok := req.Args[0].(map[string]interface{})
	return d, ok
}

func stringArgs(req Request) ([]string, error) {
	out := make([]string, 0, len(req.Args))
	for _, a := range req.Args {
		s, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string arguments", ErrUnknownOperation)
		}
		out = append(out, s)
	}
	return out, nil
}

func searchArgs(req Request) ([]query.Filter, []indexrow.ColumnDescriptor, int, int) {
	filters, _ := req.Kwargs["filters"].([]query.Filter)
	order, _ := req.Kwargs["order"].([]indexrow.ColumnDescriptor)
	limit, _ := req.Kwargs["limit"].(int)
	offset, _ := req.Kwargs["offset"].(int)
	return filters, order, limit, offset
}
