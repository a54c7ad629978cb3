package transform

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/dl/incsearch/internal/matcher"
)

// worker owns one runtime. The job's functions are instantiated in it the
// first time the worker sees a task of that job.
type worker struct {
	pool    *Pool
	vm      *goja.Runtime
	jobID   uint64
	find    goja.Callable
	replace goja.Callable
}

func (w *worker) handle(t task) {
	defer t.done()
	if t.ctx.Err() != nil {
		return
	}

	res, ok := w.process(t)
	if !ok {
		return
	}
	select {
	case t.out <- res:
	case <-t.ctx.Done():
	case <-w.pool.quit:
	}
}

func (w *worker) process(t task) (res FileResult, ok bool) {
	res.File = t.file
	defer func() {
		if p := recover(); p != nil {
			res = FileResult{File: t.file, Err: fmt.Errorf("transform %s: panic: %v", t.file, p)}
			ok = true
		}
	}()

	src, err := w.pool.reader.Read(t.ctx, t.file)
	if t.ctx.Err() != nil {
		return res, false
	}
	if err != nil {
		res.Err = fmt.Errorf("read %s: %w", t.file, err)
		return res, true
	}
	res.Source = src

	if err := w.load(t.job); err != nil {
		res.Err = err
		return res, true
	}

	v, err := w.call(t.ctx, w.find, w.vm.ToValue(src), w.vm.ToValue(t.file))
	if err != nil {
		if t.ctx.Err() != nil {
			return res, false
		}
		res.Err = &ScriptError{Script: "find", File: t.file, Err: err}
		return res, true
	}
	spans, err := toSpans(v, src)
	if err != nil {
		res.Err = &ScriptError{Script: "find", File: t.file, Err: err}
		return res, true
	}
	if len(spans) == 0 {
		return res, true
	}

	lt := matcher.NewLineTable(src)
	res.Matches = make([]matcher.Match, len(spans))
	for i, s := range spans {
		res.Matches[i] = matcher.Locate(lt, s)
	}

	if w.replace == nil {
		return res, true
	}
	res.Replacements = make([]string, len(res.Matches))
	for i, m := range res.Matches {
		v, err := w.call(t.ctx, w.replace, w.vm.ToValue(m.Text(src)), w.vm.ToValue(src), w.vm.ToValue(t.file))
		if err != nil {
			if t.ctx.Err() != nil {
				return res, false
			}
			res.Replacements = nil
			res.Err = &ScriptError{Script: "replace", File: t.file, Err: err}
			return res, true
		}
		res.Replacements[i] = v.String()
	}
	res.Transformed = matcher.Splice(src, res.Matches, func(i int, _ string) string { return res.Replacements[i] })
	return res, true
}

// load instantiates job's functions in the worker's runtime.
func (w *worker) load(job *compiledJob) error {
	if w.vm != nil && w.jobID == job.id {
		return nil
	}

	vm := goja.New()
	config := job.config
	if config == nil {
		config = map[string]any{}
	}
	if err := vm.Set("config", config); err != nil {
		return &ScriptError{Script: "find", Err: err}
	}

	fn := func(name string, prog *goja.Program) (goja.Callable, error) {
		v, err := vm.RunProgram(prog)
		if err != nil {
			return nil, &ScriptError{Script: name, Err: err}
		}
		f, ok := goja.AssertFunction(v)
		if !ok {
			return nil, &ScriptError{Script: name, Err: fmt.Errorf("expression is not a function")}
		}
		return f, nil
	}

	find, err := fn("find", job.find)
	if err != nil {
		return err
	}
	var replace goja.Callable
	if job.replace != nil {
		if replace, err = fn("replace", job.replace); err != nil {
			return err
		}
	}

	w.vm, w.jobID, w.find, w.replace = vm, job.id, find, replace
	return nil
}

// call runs f, interrupting it when ctx ends or the call times out.
func (w *worker) call(ctx context.Context, f goja.Callable, args ...goja.Value) (goja.Value, error) {
	vm := w.vm
	timer := time.AfterFunc(w.pool.opts.Timeout, func() {
		vm.Interrupt(fmt.Sprintf("timed out after %s", w.pool.opts.Timeout))
	})
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer func() {
		timer.Stop()
		stop()
		vm.ClearInterrupt()
	}()
	return f(goja.Undefined(), args...)
}

// toSpans converts a find script's return value into sorted,
// non-overlapping byte spans of src.
func toSpans(v goja.Value, src string) ([]matcher.Span, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	list, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("find must return an array, got %s", v.ExportType())
	}

	conv := newIndexConverter(src)
	spans := make([]matcher.Span, 0, len(list))
	for i, item := range list {
		start, end, err := rangeOf(item)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
		lo, okLo := conv.byteOffset(start)
		hi, okHi := conv.byteOffset(end)
		if !okLo || !okHi || lo > hi {
			return nil, fmt.Errorf("range %d: [%d, %d] out of bounds", i, start, end)
		}
		if lo == hi {
			continue
		}
		spans = append(spans, matcher.Span{lo, hi})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	kept := spans[:0]
	prevEnd := 0
	for _, s := range spans {
		if s[0] < prevEnd {
			continue
		}
		kept = append(kept, s)
		prevEnd = s[1]
	}
	return kept, nil
}

func rangeOf(item any) (int64, int64, error) {
	switch r := item.(type) {
	case []any:
		if len(r) != 2 {
			return 0, 0, fmt.Errorf("want [start, end], got %d elements", len(r))
		}
		return pair(r[0], r[1])
	case map[string]any:
		return pair(r["start"], r["end"])
	}
	return 0, 0, fmt.Errorf("want [start, end] or {start, end}, got %T", item)
}

func pair(a, b any) (int64, int64, error) {
	start, ok1 := toInt(a)
	end, ok2 := toInt(b)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("non-integer bounds %v, %v", a, b)
	}
	return start, end, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// indexConverter maps JavaScript string indices (UTF-16 code units) to
// byte offsets. For ASCII sources the two coincide.
type indexConverter struct {
	n       int
	offsets []int // offsets[i] is the byte offset of code unit i; nil for ASCII
}

func newIndexConverter(src string) indexConverter {
	ascii := true
	for i := 0; i < len(src); i++ {
		if src[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return indexConverter{n: len(src)}
	}

	offsets := make([]int, 0, len(src)+1)
	for i, r := range src {
		offsets = append(offsets, i)
		if utf16.RuneLen(r) == 2 {
			offsets = append(offsets, i) // low surrogate maps to the rune start
		}
	}
	offsets = append(offsets, len(src))
	return indexConverter{n: len(offsets) - 1, offsets: offsets}
}

func (c indexConverter) byteOffset(i int64) (int, bool) {
	if i < 0 || i > int64(c.n) {
		return 0, false
	}
	if c.offsets == nil {
		return int(i), true
	}
	return c.offsets[i], true
}
