package references

import (
	"context"

	"chapterflow/internal/models"
)

// Lookup fetches the content a normalized target id points at. A missing
// target is ok=false, not an error.
type Lookup interface {
	Lookup(ctx context.Context, ref models.Reference) (content string, ok bool, err error)
}

type LookupFunc func(ctx context.Context, ref models.Reference) (string, bool, error)

func (f LookupFunc) Lookup(ctx context.Context, ref models.Reference) (string, bool, error) {
	return f(ctx, ref)
}

// ChainLookup asks each lookup in turn and returns the first hit. Errors are
// remembered but do not stop the chain.
type ChainLookup []Lookup

func (c ChainLookup) Lookup(ctx context.Context, ref models.Reference) (string, bool, error) {
	var firstErr error
	for _, l := range c {
		if l == nil {
			continue
		}
		content, ok, err := l.Lookup(ctx, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return content, true, nil
		}
	}
	return "", false, firstErr
}

// Resolve returns the referenced content. References without a target are
// never looked up.
func Resolve(ctx context.Context, ref models.Reference, l Lookup) (string, bool, error) {
	if ref.TargetID == nil || l == nil {
		return "", false, nil
	}
	return l.Lookup(ctx, ref)
}

type ResolvedReference struct {
	Reference models.Reference `json:"reference"`
	Content   string           `json:"content"`
}

// Resolution splits references by outcome. Dangling ones had a target that
// could not be found; unresolvable ones never had a target.
type Resolution struct {
	Resolved     []ResolvedReference `json:"resolved"`
	Dangling     []models.Reference  `json:"dangling"`
	Unresolvable []models.Reference  `json:"unresolvable"`
}

// ResolveAll looks every distinct target up once. Lookup errors count as
// dangling; nothing is retried.
func ResolveAll(ctx context.Context, refs map[int][]models.Reference, l Lookup) Resolution {
	type hit struct {
		content string
		ok      bool
	}
	seen := map[string]hit{}
	var res Resolution
	for _, ref := range Flatten(refs) {
		if ref.TargetID == nil {
			res.Unresolvable = append(res.Unresolvable, ref)
			continue
		}
		key := string(ref.Type) + "|" + *ref.TargetID
		h, cached := seen[key]
		if !cached {
			content, ok, err := Resolve(ctx, ref, l)
			h = hit{content: content, ok: ok && err == nil}
			seen[key] = h
		}
		if h.ok {
			res.Resolved = append(res.Resolved, ResolvedReference{Reference: ref, Content: h.content})
		} else {
			res.Dangling = append(res.Dangling, ref)
		}
	}
	return res
}
