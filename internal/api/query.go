package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
	"crudkit/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// parseListParams: _limit/limit, _offset/offset, _sort/sort ("-name,id"),
// остальные ключи — равенства по колонкам ("null" означает IS NULL).
func parseListParams(e *dsl.Entity, q url.Values) (store.Query, error) {
	out := store.Query{Limit: defaultLimit, Filters: map[string]any{}}

	if lv := first(q, "_limit", "limit"); lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n < 0 || n > maxLimit {
			return out, fmt.Errorf("limit must be 0..%d", maxLimit)
		}
		out.Limit = n
	}
	if ov := first(q, "_offset", "offset"); ov != "" {
		n, err := strconv.Atoi(ov)
		if err != nil || n < 0 {
			return out, fmt.Errorf("offset must be a non-negative integer")
		}
		out.Offset = n
	}

	if sv := first(q, "_sort", "sort"); sv != "" {
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			desc := strings.HasPrefix(p, "-")
			p = strings.TrimLeft(p, "+-")
			if p == "" {
				continue
			}
			if a, ok := e.Attr(p); !ok || !a.Physical() {
				return out, fmt.Errorf("cannot sort by %q", p)
			}
			out.Sort = append(out.Sort, store.SortKey{Field: p, Desc: desc})
		}
	}

	for k, vals := range q {
		switch k {
		case "limit", "offset", "sort", "_limit", "_offset", "_sort":
			continue
		}
		a, ok := e.Attr(k)
		if !ok || !a.Physical() {
			return out, fmt.Errorf("cannot filter by %q", k)
		}
		raw := strings.TrimSpace(vals[len(vals)-1])
		if strings.EqualFold(raw, "null") {
			out.Filters[k] = nil
			continue
		}
		t, _ := dsl.PrimitiveType(a)
		v, err := schema.Coerce(t, raw)
		if err != nil {
			return out, fmt.Errorf("filter %s: %v", k, err)
		}
		out.Filters[k] = v
	}
	return out, nil
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
