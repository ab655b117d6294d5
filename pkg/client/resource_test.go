package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/Sternrassler/eaccounting-client/internal/testutil"
	"github.com/Sternrassler/eaccounting-client/pkg/pagination"
	"github.com/Sternrassler/eaccounting-client/pkg/retry"
)

func pageQueries(t *testing.T, mock *testutil.MockAPI) []url.Values {
	t.Helper()
	var out []url.Values
	for _, r := range mock.Requests() {
		q, err := url.ParseQuery(r.Query)
		if err != nil {
			t.Fatalf("ParseQuery(%q) error = %v", r.Query, err)
		}
		out = append(out, q)
	}
	return out
}

func TestResource_ListAllPages(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", testutil.Items("cust", 7))

	c := newTestClient(t, mock, func(cfg *Config) { cfg.PageSize = 3 })

	items, err := pagination.Collect(context.Background(), c.Customers().List(ListOptions{}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("items = %d, want 7", len(items))
	}
	for i, item := range items {
		if want := fmt.Sprintf("cust-%d", i+1); item.Id != want {
			t.Errorf("items[%d].Id = %q, want %q", i, item.Id, want)
		}
	}

	queries := pageQueries(t, mock)
	if len(queries) != 3 {
		t.Fatalf("requests = %d, want 3", len(queries))
	}
	for i, q := range queries {
		if got, want := q.Get("$page"), fmt.Sprint(i+1); got != want {
			t.Errorf("request %d $page = %s, want %s", i, got, want)
		}
		if got := q.Get("$pagesize"); got != "3" {
			t.Errorf("request %d $pagesize = %s, want 3", i, got)
		}
	}
}

func TestResource_ListPassesFilterAndOrder(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customerinvoices", nil)

	c := newTestClient(t, mock)

	opts := ListOptions{
		Filter:   "RemainingAmount gt 0",
		OrderBy:  "DueDate desc",
		PageSize: 10,
		Query:    url.Values{"$select": {"Id,DueDate"}},
	}
	if _, err := pagination.Collect(context.Background(), c.CustomerInvoices().List(opts)); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	queries := pageQueries(t, mock)
	if len(queries) != 1 {
		t.Fatalf("requests = %d, want 1", len(queries))
	}
	q := queries[0]
	if q.Get("$filter") != opts.Filter {
		t.Errorf("$filter = %q, want %q", q.Get("$filter"), opts.Filter)
	}
	if q.Get("$orderby") != opts.OrderBy {
		t.Errorf("$orderby = %q, want %q", q.Get("$orderby"), opts.OrderBy)
	}
	if q.Get("$pagesize") != "10" {
		t.Errorf("$pagesize = %q, want 10", q.Get("$pagesize"))
	}
	if q.Get("$select") != "Id,DueDate" {
		t.Errorf("$select = %q", q.Get("$select"))
	}
}

func TestResource_ListEmptyCollection(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("suppliers", nil)

	c := newTestClient(t, mock)
	stream := c.Suppliers().List(ListOptions{})

	if stream.Next(context.Background()) {
		t.Error("Next() = true on empty collection")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestResource_ListRecoversFromTransientFailure(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("articles", testutil.Items("art", 6))
	mock.FailNext("GET /articles?page=2",
		testutil.Failure{StatusCode: http.StatusServiceUnavailable},
		testutil.Failure{StatusCode: http.StatusTooManyRequests, Headers: map[string]string{"Retry-After": "0"}},
	)

	c := newTestClient(t, mock, func(cfg *Config) { cfg.PageSize = 3 })

	items, err := pagination.Collect(context.Background(), c.Articles().List(ListOptions{}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 6 {
		t.Errorf("items = %d, want 6", len(items))
	}
	// page 1, page 2 three times, page 2 is the last page
	if n := mock.RequestCount(); n != 4 {
		t.Errorf("requests = %d, want 4", n)
	}
}

func TestResource_ListStopsOnFatalError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("vouchers", testutil.Items("v", 6))
	mock.FailNext("GET /vouchers?page=2", testutil.Failure{
		StatusCode: http.StatusBadRequest,
		Body:       `{"ErrorCode":4000,"Message":"Invalid filter"}`,
	})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.PageSize = 3 })
	stream := c.Vouchers().List(ListOptions{})
	ctx := context.Background()

	var got []string
	for stream.Next(ctx) {
		got = append(got, stream.Item().Id)
	}
	if len(got) != 3 {
		t.Errorf("items before error = %d, want 3", len(got))
	}

	err := stream.Err()
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Err() = %v, want *APIError", err)
	}
	if apiErr.ErrorCode != 4000 {
		t.Errorf("ErrorCode = %d, want 4000", apiErr.ErrorCode)
	}
	if kind := retry.Classify(err); kind != retry.KindFatalClient {
		t.Errorf("Classify() = %v, want %v", kind, retry.KindFatalClient)
	}
	if n := mock.RequestCount(); n != 2 {
		t.Errorf("requests = %d, want 2 (no retry of a fatal error)", n)
	}
	if stream.Next(ctx) {
		t.Error("Next() after error = true")
	}
}

func TestResource_ListExhaustsRetries(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("projects", testutil.Items("p", 2))
	for i := 0; i < 5; i++ {
		mock.FailNext("GET /projects?page=1", testutil.Failure{StatusCode: http.StatusBadGateway})
	}

	c := newTestClient(t, mock)
	_, err := pagination.Collect(context.Background(), c.Projects().List(ListOptions{}))
	if kind := retry.Classify(err); kind != retry.KindTransientServer {
		t.Errorf("Classify() = %v, want %v", kind, retry.KindTransientServer)
	}
	if n := mock.RequestCount(); n != fastPolicy().MaxAttempts {
		t.Errorf("requests = %d, want %d", n, fastPolicy().MaxAttempts)
	}
}

func TestResource_ListMaxPages(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", testutil.Items("cust", 10))

	c := newTestClient(t, mock)

	items, err := pagination.Collect(context.Background(),
		c.Customers().List(ListOptions{PageSize: 2, MaxPages: 2}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 4 {
		t.Errorf("items = %d, want 4", len(items))
	}
}

func TestResource_Page(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", testutil.Items("cust", 7))

	c := newTestClient(t, mock)

	page, err := c.Customers().Page(context.Background(), 1, 3, ListOptions{})
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if page.Index != 1 {
		t.Errorf("Index = %d, want 1", page.Index)
	}
	if len(page.Items) != 3 || page.Items[0].Id != "cust-4" {
		t.Errorf("Items = %+v, want cust-4..cust-6", page.Items)
	}
	if !page.HasNextPage || !page.HasPreviousPage {
		t.Errorf("HasNextPage=%v HasPreviousPage=%v, want both true", page.HasNextPage, page.HasPreviousPage)
	}
	if page.TotalItems != 7 {
		t.Errorf("TotalItems = %d, want 7", page.TotalItems)
	}

	last, err := c.Customers().Page(context.Background(), 2, 3, ListOptions{})
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if last.HasNextPage {
		t.Error("last page HasNextPage = true")
	}

	if _, err := c.Customers().Page(context.Background(), -1, 3, ListOptions{}); err == nil {
		t.Error("Page(-1) error = nil")
	}
	if _, err := c.Customers().Page(context.Background(), 0, 0, ListOptions{}); !errors.Is(err, pagination.ErrPageSize) {
		t.Errorf("Page(size 0) error = %v, want ErrPageSize", err)
	}
}

func TestResource_Get(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", testutil.Items("cust", 2))
	mock.FailNext("GET /customers/cust-2", testutil.Failure{StatusCode: http.StatusInternalServerError})

	c := newTestClient(t, mock)
	ctx := context.Background()

	customer, err := c.Customers().Get(ctx, "cust-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if customer.Name != "cust 2" {
		t.Errorf("Name = %q, want cust 2", customer.Name)
	}
	if n := mock.RequestCount(); n != 2 {
		t.Errorf("requests = %d, want 2 (one retry)", n)
	}

	mock.Reset()
	_, err = c.Customers().Get(ctx, "nobody")
	if !IsNotFound(err) {
		t.Errorf("Get(nobody) error = %v, want not found", err)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("requests = %d, want 1 (404 is not retried)", n)
	}

	if _, err := c.Customers().Get(ctx, ""); err == nil {
		t.Error("Get(\"\") error = nil")
	}
}

func TestResource_CreateSingleAttemptByDefault(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", nil)
	mock.FailNext("POST /customers", testutil.Failure{StatusCode: http.StatusServiceUnavailable})

	c := newTestClient(t, mock)

	_, err := c.Customers().Create(context.Background(), &Customer{Name: "ACME"})
	if kind := retry.Classify(err); kind != retry.KindTransientServer {
		t.Errorf("Classify() = %v, want %v", kind, retry.KindTransientServer)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	if items := mock.Items("customers"); len(items) != 0 {
		t.Errorf("stored items = %d, want 0", len(items))
	}
}

func TestResource_CreateWithRetry(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("customers", nil)
	mock.FailNext("POST /customers", testutil.Failure{StatusCode: http.StatusServiceUnavailable})

	c := newTestClient(t, mock)

	created, err := c.Customers().Create(context.Background(), &Customer{Name: "ACME"}, WithRetry())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Id == "" || created.Name != "ACME" {
		t.Errorf("Create() = %+v", created)
	}
	if n := mock.RequestCount(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestResource_CreateWithIdempotencyKey(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("vouchers", nil)
	mock.FailNext("POST /vouchers", testutil.Failure{StatusCode: http.StatusBadGateway})

	c := newTestClient(t, mock)

	_, err := c.Vouchers().Create(context.Background(), &Voucher{
		VoucherDate: "2024-03-01",
		VoucherText: "Rent",
		Rows: []VoucherRow{
			{AccountNumber: 5010, DebitAmount: 1000},
			{AccountNumber: 1930, CreditAmount: 1000},
		},
	}, WithIdempotencyKey("rent-2024-03"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	for i, r := range reqs {
		if got := r.Header.Get("Idempotency-Key"); got != "rent-2024-03" {
			t.Errorf("request %d Idempotency-Key = %q", i, got)
		}
	}
}

func TestResource_UpdateAndDelete(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("articles", testutil.Items("art", 2))

	c := newTestClient(t, mock)
	ctx := context.Background()

	updated, err := c.Articles().Update(ctx, "art-1", &Article{Number: "A1", Name: "Hammer", NetPrice: 9.5})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "Hammer" || updated.Id != "art-1" {
		t.Errorf("Update() = %+v", updated)
	}

	if err := c.Articles().Delete(ctx, "art-2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if items := mock.Items("articles"); len(items) != 1 {
		t.Errorf("stored items = %d, want 1", len(items))
	}

	if err := c.Articles().Delete(ctx, "art-2"); !IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
	if err := c.Articles().Delete(ctx, ""); err == nil {
		t.Error("Delete(\"\") error = nil")
	}
}

func TestResource_UpdateInvalidatesCache(t *testing.T) {
	redisClient := setupTestRedis(t)
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/projects/p1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut {
			_, _ = w.Write([]byte(`{"Id":"p1","Name":"New"}`))
			return
		}
		w.Header().Set("Cache-Control", "max-age=300")
		_, _ = w.Write([]byte(`{"Id":"p1","Name":"Old"}`))
	})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	if _, err := c.Projects().Get(ctx, "p1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Projects().Update(ctx, "p1", &Project{Name: "New"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := c.Projects().Get(ctx, "p1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// GET, PUT, GET again after invalidation
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestResource_Names(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	c := newTestClient(t, mock)

	tests := []struct{ name, path, wantName, wantPath string }{
		{c.Customers().Name(), c.Customers().Path(), "customers", "/customers"},
		{c.CustomerInvoices().Name(), c.CustomerInvoices().Path(), "customerinvoices", "/customerinvoices"},
		{c.Articles().Name(), c.Articles().Path(), "articles", "/articles"},
		{c.Suppliers().Name(), c.Suppliers().Path(), "suppliers", "/suppliers"},
		{c.Vouchers().Name(), c.Vouchers().Path(), "vouchers", "/vouchers"},
		{c.Accounts().Name(), c.Accounts().Path(), "accounts", "/accounts"},
		{c.Projects().Name(), c.Projects().Path(), "projects", "/projects"},
	}
	for _, tt := range tests {
		if tt.name != tt.wantName || tt.path != tt.wantPath {
			t.Errorf("resource = (%q, %q), want (%q, %q)", tt.name, tt.path, tt.wantName, tt.wantPath)
		}
	}
}

func TestResource_ListFollowsEmptyPageWithZeroConfig(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// page 1 is empty but promises more; page 2 holds the data
	mock.SetHandler("/customers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$page") == "1" {
			fmt.Fprint(w, `{"Meta":{"CurrentPage":1,"PageSize":2,"TotalNumberOfPages":2,"TotalNumberOfResults":2},"Data":[]}`)
			return
		}
		fmt.Fprint(w, `{"Meta":{"CurrentPage":2,"PageSize":2,"TotalNumberOfPages":2,"TotalNumberOfResults":2},"Data":[{"Id":"a","Name":"A"},{"Id":"b","Name":"B"}]}`)
	})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.MaxEmptyPages = 0 })
	if c.Config().MaxEmptyPages != pagination.DefaultMaxEmptyPages {
		t.Errorf("MaxEmptyPages = %d, want %d", c.Config().MaxEmptyPages, pagination.DefaultMaxEmptyPages)
	}

	got, err := pagination.Collect(context.Background(), c.Customers().List(ListOptions{PageSize: 2}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(got) != 2 || got[0].Id != "a" || got[1].Id != "b" {
		t.Errorf("customers = %+v, want a and b", got)
	}
}
