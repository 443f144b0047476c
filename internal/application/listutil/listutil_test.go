package listutil

import (
	"net/url"
	"testing"
)

func TestParse(t *testing.T) {
	cols := []string{"id", "name"}
	tests := []struct {
		name string
		q    url.Values
		want Params
	}{
		{"defaults", url.Values{}, Params{Page: 1, PerPage: DefaultPerPage}},
		{"all set", url.Values{"q": {" Ali "}, "sort": {"name"}, "dir": {"desc"}, "page": {"3"}, "per_page": {"20"}},
			Params{Search: "ali", Sort: "name", Desc: true, Page: 3, PerPage: 20}},
		{"unknown column", url.Values{"sort": {"password"}}, Params{Page: 1, PerPage: DefaultPerPage}},
		{"per_page not offered", url.Values{"per_page": {"25"}}, Params{Page: 1, PerPage: DefaultPerPage}},
		{"negative page", url.Values{"page": {"-1"}}, Params{Page: 1, PerPage: DefaultPerPage}},
		{"junk page", url.Values{"page": {"two"}}, Params{Page: 1, PerPage: DefaultPerPage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.q, cols); got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParams_Matches(t *testing.T) {
	p := Params{Search: "ali"}
	if !p.Matches("1001", "Alice") {
		t.Error("Matches() = false for a case-insensitive name hit")
	}
	if p.Matches("1002", "Bob") {
		t.Error("Matches() = true for a miss")
	}
	if !(Params{}).Matches() {
		t.Error("empty search should match everything")
	}
}

func TestNewPageInfo(t *testing.T) {
	tests := []struct {
		name                 string
		page, perPage, total int
		wantPage, wantPages  int
	}{
		{"first page", 1, 10, 25, 1, 3},
		{"clamped past end", 9, 10, 25, 3, 3},
		{"empty", 1, 10, 0, 1, 1},
		{"exact fit", 2, 10, 20, 2, 2},
		{"bad per page", 1, 0, 120, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPageInfo(tt.page, tt.perPage, tt.total)
			if got.Page != tt.wantPage || got.TotalPages != tt.wantPages {
				t.Errorf("NewPageInfo() = %+v, want page %d of %d", got, tt.wantPage, tt.wantPages)
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name string
		p    Params
		want []int
	}{
		{"first", Params{Page: 1, PerPage: 2}, []int{1, 2}},
		{"last partial", Params{Page: 3, PerPage: 2}, []int{5}},
		{"past end clamps", Params{Page: 7, PerPage: 2}, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, info := Paginate(items, tt.p)
			if len(got) != len(tt.want) || (len(got) > 0 && got[0] != tt.want[0]) {
				t.Errorf("Paginate() = %v, want %v", got, tt.want)
			}
			if info.Total != 5 {
				t.Errorf("Total = %d, want 5", info.Total)
			}
		})
	}

	got, info := Paginate([]string(nil), Params{Page: 1, PerPage: 10})
	if len(got) != 0 || info.TotalPages != 1 {
		t.Errorf("Paginate(nil) = %v, %+v", got, info)
	}
}
