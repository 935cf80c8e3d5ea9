package pagination

import (
	"net/url"
	"testing"
)

func TestPaginate(t *testing.T) {
	cases := []struct {
		name  string
		total int
		page  int
		limit int
		want  Meta
	}{
		{name: "partial last page", total: 25, page: 2, limit: 10, want: Meta{Page: 2, Limit: 10, Total: 25, Pages: 3}},
		{name: "exact multiple", total: 30, page: 1, limit: 10, want: Meta{Page: 1, Limit: 10, Total: 30, Pages: 3}},
		{name: "empty source", total: 0, page: 1, limit: 20, want: Meta{Page: 1, Limit: 20, Total: 0, Pages: 0}},
		{name: "page past the end", total: 5, page: 9, limit: 10, want: Meta{Page: 9, Limit: 10, Total: 5, Pages: 1}},
		{name: "limit one", total: 7, page: 3, limit: 1, want: Meta{Page: 3, Limit: 1, Total: 7, Pages: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Paginate(tc.total, tc.page, tc.limit); got != tc.want {
				t.Fatalf("Paginate(%d, %d, %d) = %+v, want %+v", tc.total, tc.page, tc.limit, got, tc.want)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	params, problems := Parse(url.Values{}, 12)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if params.Page != 1 || params.Limit != 12 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params.Offset() != 0 {
		t.Fatalf("Offset() = %d, want 0", params.Offset())
	}
}

func TestParseValues(t *testing.T) {
	params, problems := Parse(url.Values{"page": {"3"}, "limit": {"25"}}, 10)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if params.Page != 3 || params.Limit != 25 || params.Offset() != 50 {
		t.Fatalf("unexpected params: %+v offset=%d", params, params.Offset())
	}
	if meta := params.Meta(51); meta.Pages != 3 || meta.Total != 51 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name  string
		query url.Values
		count int
	}{
		{name: "zero page", query: url.Values{"page": {"0"}}, count: 1},
		{name: "text page", query: url.Values{"page": {"two"}}, count: 1},
		{name: "limit too big", query: url.Values{"limit": {"101"}}, count: 1},
		{name: "limit zero", query: url.Values{"limit": {"0"}}, count: 1},
		{name: "both bad", query: url.Values{"page": {"-1"}, "limit": {"x"}}, count: 2},
		{name: "upper bound ok", query: url.Values{"limit": {"100"}}, count: 0},
		{name: "offset overflow", query: url.Values{"page": {"922337203685477581"}, "limit": {"100"}}, count: 1},
		{name: "offset past int32", query: url.Values{"page": {"21474838"}, "limit": {"100"}}, count: 1},
		{name: "last page in range", query: url.Values{"page": {"21474837"}, "limit": {"100"}}, count: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, problems := Parse(tc.query, 10)
			if len(problems) != tc.count {
				t.Fatalf("Parse(%v) problems = %v, want %d", tc.query, problems, tc.count)
			}
		})
	}
}

func TestParseOutOfRangeMessage(t *testing.T) {
	_, problems := Parse(url.Values{"page": {"922337203685477581"}, "limit": {"100"}}, 10)
	if len(problems) != 1 || problems[0] != "page is out of range" {
		t.Fatalf("problems = %v", problems)
	}
}
