package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/kolkov/gcengine/gc"
)

// StepReport is the outcome of one scenario step.
type StepReport struct {
	Index           int            `json:"index"`
	Action          string         `json:"action"`
	Duration        time.Duration  `json:"durationNs"`
	UsedWordsBefore int            `json:"usedWordsBefore"`
	UsedWordsAfter  int            `json:"usedWordsAfter"`
	Detail          map[string]any `json:"detail,omitempty"`
}

// Report is the outcome of a scenario run.
type Report struct {
	Scenario string       `json:"scenario"`
	Steps    []StepReport `json:"steps"`
	Final    gc.Usage     `json:"final"`

	YoungCycles       uint64        `json:"youngCycles"`
	FullCycles        uint64        `json:"fullCycles"`
	PromotionFailures uint64        `json:"promotionFailures"`
	TotalPause        time.Duration `json:"totalPauseNs"`
}

// runner builds a scenario's graph in a runtime and plays its steps.
type runner struct {
	s     *Scenario
	rt    *gc.Runtime
	types map[string]gc.TypeID
	roots map[string]gc.RootHandle
}

// RunScenario builds s in a fresh runtime and runs its steps.
func RunScenario(ctx context.Context, s *Scenario, opts ...gc.Option) (*Report, error) {
	cfg, err := s.RuntimeConfig()
	if err != nil {
		return nil, err
	}
	rt, err := gc.NewRuntime(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r := &runner{
		s:     s,
		rt:    rt,
		types: make(map[string]gc.TypeID),
		roots: make(map[string]gc.RootHandle),
	}
	if err := r.build(); err != nil {
		return nil, err
	}

	rep := &Report{Scenario: s.Name}
	for i, st := range s.Steps {
		sr, err := r.step(ctx, st)
		if err != nil {
			return rep, errorAt(s.file, st.pos, fmt.Sprintf("step %d (%s): %v", i+1, st.Action, err), "")
		}
		sr.Index = i + 1
		rep.Steps = append(rep.Steps, sr)
	}

	stats := rt.Stats()
	rep.Final = rt.Usage()
	rep.YoungCycles = stats.YoungCycles
	rep.FullCycles = stats.FullCycles
	rep.PromotionFailures = stats.PromotionFailures
	rep.TotalPause = stats.TotalPause
	return rep, nil
}

// build registers the types and allocates the initial graph. Every object
// is held by a temporary root while the graph is wired, since allocating
// may run a collection that moves or frees unreachable objects.
func (r *runner) build() error {
	for _, t := range r.s.Types {
		switch t.Array {
		case "refs":
			r.types[t.Name] = r.rt.RegisterRefArray(t.Name)
		case "data":
			r.types[t.Name] = r.rt.RegisterDataArray(t.Name)
		default:
			id, err := r.rt.RegisterType(t.Name, t.Words, t.Refs...)
			if err != nil {
				return errorAt(r.s.file, t.pos, err.Error(), "")
			}
			r.types[t.Name] = id
		}
	}

	tmp := make(map[string]gc.RootHandle, len(r.s.Objects))
	for _, o := range r.s.Objects {
		id := r.types[o.Type]
		var a gc.Address
		var err error
		switch o.Space {
		case "old":
			a, err = r.rt.NewOld(id, o.Length)
		case "archive":
			a, err = r.rt.NewArchive(id, o.Length)
		default:
			a, err = r.rt.NewArray(id, o.Length)
		}
		if err != nil {
			return errorAt(r.s.file, o.pos, fmt.Sprintf("allocate %q: %v", o.ID, err), "raise config.heap.regions")
		}
		tmp[o.ID] = r.rt.AddRoot(0, a)
	}

	for _, o := range r.s.Objects {
		a := r.rt.Root(tmp[o.ID])
		for field, v := range o.Data {
			r.rt.Store(a, field, v)
		}
		for field, target := range o.Refs {
			r.rt.StoreRef(a, field, r.rt.Root(tmp[target]))
		}
		if o.Hash != 0 {
			r.rt.Hash(a, o.Hash)
		}
	}

	for _, root := range r.s.Roots {
		a := r.rt.Root(tmp[root.Object])
		var h gc.RootHandle
		switch root.Kind {
		case "global":
			h = r.rt.AddGlobal(a)
		case "weak":
			h = r.rt.AddWeak(a)
		default:
			h = r.rt.AddRoot(root.Thread, a)
		}
		if root.Name != "" {
			r.roots[root.Name] = h
		}
	}
	for _, h := range tmp {
		r.rt.ClearRoot(h)
	}
	return nil
}

func (r *runner) step(ctx context.Context, st StepSpec) (StepReport, error) {
	sr := StepReport{Action: st.Action, UsedWordsBefore: r.rt.Usage().UsedWords}
	start := time.Now()

	switch st.Action {
	case "young":
		res, err := r.rt.CollectYoung(ctx)
		if err != nil {
			return sr, err
		}
		sr.Detail = map[string]any{
			"collectionSet":   res.CollectionSet,
			"survivors":       res.Promotion.SurvivorObjects,
			"tenured":         res.Promotion.TenuredObjects,
			"promotionFailed": res.PromotionFailed,
			"regionsFreed":    res.RegionsFreed,
		}
		if res.FollowUp != nil {
			sr.Detail["followUpFreed"] = res.FollowUp.RegionsFreed
		}
	case "full":
		res, err := r.rt.Collect(ctx)
		if err != nil {
			return sr, err
		}
		sr.Detail = map[string]any{
			"marked":       res.MarkedObjects,
			"liveWords":    res.LiveWords,
			"compacting":   res.Plan.Compacting,
			"moved":        res.Moved,
			"regionsFreed": res.RegionsFreed,
		}
	case "verify":
		if err := r.rt.Verify(); err != nil {
			return sr, err
		}
	case "drop":
		r.rt.ClearRoot(r.roots[st.Root])
	case "churn":
		id := r.types[st.Type]
		kept := 0
		for i := 0; i < st.Count; i++ {
			a, err := r.rt.NewArray(id, st.Length)
			if err != nil {
				return sr, err
			}
			if st.Keep > 0 && i%st.Keep == 0 {
				r.rt.AddGlobal(a)
				kept++
			}
		}
		sr.Detail = map[string]any{"allocated": st.Count, "kept": kept}
	}

	sr.Duration = time.Since(start)
	sr.UsedWordsAfter = r.rt.Usage().UsedWords
	return sr, nil
}

// WriteText prints rep as a table.
func (rep *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scenario: %s\n\n", rep.Scenario)
	fmt.Fprintln(tw, "STEP\tACTION\tDURATION\tUSED BEFORE\tUSED AFTER\tDETAIL")
	for _, s := range rep.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", s.Index, s.Action, s.Duration.Round(time.Microsecond), s.UsedWordsBefore, s.UsedWordsAfter, formatDetail(s.Detail))
	}
	fmt.Fprintf(tw, "\ncycles: %d young, %d full, %d promotion failures, %s total pause\n",
		rep.YoungCycles, rep.FullCycles, rep.PromotionFailures, rep.TotalPause.Round(time.Microsecond))
	fmt.Fprintf(tw, "heap: %d words used, %d of %d regions free\n", rep.Final.UsedWords, rep.Final.FreeRegions, rep.Final.Regions)
	return tw.Flush()
}

// WriteJSON prints rep as indented JSON.
func (rep *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func formatDetail(d map[string]any) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, d[k])
	}
	return out
}
