package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/httpapi"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/idempotency"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

// newOrderAPI поднимает настоящий HTTP API поверх in-memory хранилищ.
func newOrderAPI(t *testing.T) *httptest.Server {
	t.Helper()

	manager := lifecycle.NewManager(memory.NewOrderRepository(), memory.NewCatalogRepository(domain.SeedProducts()...),
		lifecycle.WithLogger(quietLogger()),
		lifecycle.WithStoreTimeout(time.Second),
	)
	handler := httpapi.NewHandler(manager,
		httpapi.WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(quietLogger()))),
		httpapi.WithLogger(quietLogger()),
	)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server
}

func runConfig(baseURL string, mode loadMode, productID int64, total int) config {
	return config{
		baseURL:     baseURL,
		total:       total,
		concurrency: 4,
		timeout:     2 * time.Second,
		mode:        mode,
		productID:   productID,
		quantity:    1,
		ownerBase:   1000,
		idempotent:  true,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "create", want: modeCreate},
		{input: "create-update", want: modeCreateUpdate},
		{input: " create-update-remove ", want: modeCreateUpdateRemove},
		{input: "create-pay", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseMode(tc.input)
		if tc.wantErr {
			if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
				t.Fatalf("%q: expected unsupported mode error, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v", tc.input, got, err)
		}
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseConfig(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.baseURL != "http://localhost:8080" || cfg.total != 400 || cfg.totalSet {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if cfg.mode != modeCreate || !cfg.idempotent || cfg.productID != 1 || cfg.quantity != 1 {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
	})

	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-addr=http://127.0.0.1:9000/",
			"-mode=create-update",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-remove-rate=10",
			"-product-id=3",
			"-quantity=2",
			"-owner-base=50",
			"-idempotent=false",
			"-output=/tmp/out.json",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.baseURL != "http://127.0.0.1:9000" {
			t.Fatalf("expected trailing slash trimmed, got %s", cfg.baseURL)
		}
		if !cfg.totalSet || cfg.total != 12 || cfg.concurrency != 3 || cfg.removeRate != 10 {
			t.Fatalf("unexpected numeric config: %+v", cfg)
		}
		if cfg.mode != modeCreateUpdate || cfg.productID != 3 || cfg.quantity != 2 || cfg.ownerBase != 50 || cfg.idempotent {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.timeout != 2*time.Second {
			t.Fatalf("unexpected timeout: %s", cfg.timeout)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-duration=3s", "-concurrency=2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.duration != 3*time.Second || cfg.totalSet {
			t.Fatalf("unexpected duration config: %+v", cfg)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			args    []string
			wantErr string
		}{
			{args: []string{"-duration=bad"}, wantErr: "parse duration"},
			{args: []string{"-timeout=bad"}, wantErr: "parse timeout"},
			{args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{args: []string{"-remove-rate=101"}, wantErr: "remove-rate must be between 0 and 100"},
			{args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{args: []string{"-duration=1s", "-total=0"}, wantErr: "explicitly set"},
			{args: []string{"-concurrency=0"}, wantErr: "concurrency must be > 0"},
			{args: []string{"-timeout=0s"}, wantErr: "timeout must be > 0"},
			{args: []string{"-product-id=0"}, wantErr: "product-id must be > 0"},
			{args: []string{"-quantity=0"}, wantErr: "quantity must be > 0"},
			{args: []string{"-owner-base=0"}, wantErr: "owner-base must be > 0"},
			{args: []string{"-addr= "}, wantErr: "addr is required"},
			{args: []string{"-mode=bad"}, wantErr: "unsupported mode"},
			{args: []string{"-unknown"}, wantErr: "flag provided but not defined"},
		}

		for _, tc := range tests {
			_, err := parseConfig(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("args %v: expected %q, got %v", tc.args, tc.wantErr, err)
			}
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatal("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})

	t.Run("canceled context stops dispatch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 100})
		if _, ok := <-jobs; ok {
			t.Fatal("expected closed channel without jobs")
		}
	})
}

func TestRun_CreateReservesStock(t *testing.T) {
	server := newOrderAPI(t)

	result, err := run(context.Background(), runConfig(server.URL, modeCreate, 1, 6), server.Client())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.TotalScenarios != 6 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if result.Stock.Before != 20 || result.Stock.After != 14 || result.Stock.Reserved != 6 || !result.Stock.Consistent {
		t.Fatalf("unexpected stock report: %+v", result.Stock)
	}
	if result.Methods["CreateOrder"].Codes["201"] != 6 {
		t.Fatalf("expected six 201 responses, got %+v", result.Methods["CreateOrder"].Codes)
	}
}

func TestRun_FullLifecycleReturnsStock(t *testing.T) {
	server := newOrderAPI(t)

	result, err := run(context.Background(), runConfig(server.URL, modeCreateUpdateRemove, 1, 5), server.Client())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failures: %+v", result.Methods)
	}
	if result.Stock.Before != result.Stock.After || result.Stock.Reserved != 0 || !result.Stock.Consistent {
		t.Fatalf("stock must be returned after removal: %+v", result.Stock)
	}
	for _, method := range []string{"CreateOrder", "UpdateOrder", "RemoveOrder"} {
		if result.Methods[method].Calls != 5 {
			t.Fatalf("expected 5 %s calls, got %+v", method, result.Methods[method])
		}
	}
	if result.Methods["RemoveOrder"].Codes["204"] != 5 {
		t.Fatalf("expected 204 on remove, got %+v", result.Methods["RemoveOrder"].Codes)
	}
}

func TestRun_OversellIsRejected(t *testing.T) {
	server := newOrderAPI(t)

	// Товар 4 в стартовом каталоге: остаток 5.
	result, err := run(context.Background(), runConfig(server.URL, modeCreate, 4, 8), server.Client())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.SuccessScenarios != 5 || result.FailedScenarios != 3 {
		t.Fatalf("expected 5 successful and 3 rejected scenarios, got %+v", result)
	}
	if result.Stock.After != 0 || !result.Stock.Consistent {
		t.Fatalf("unexpected stock report: %+v", result.Stock)
	}
	if result.Methods["CreateOrder"].Codes["409"] != 3 {
		t.Fatalf("expected three 409 responses, got %+v", result.Methods["CreateOrder"].Codes)
	}
}

func TestRun_Errors(t *testing.T) {
	server := newOrderAPI(t)

	// Товар 5 в стартовом каталоге неактивен.
	if _, err := run(context.Background(), runConfig(server.URL, modeCreate, 5, 1), server.Client()); err == nil || !strings.Contains(err.Error(), "not active") {
		t.Fatalf("expected inactive product error, got %v", err)
	}
	if _, err := run(context.Background(), runConfig(server.URL, modeCreate, 99, 1), server.Client()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected missing product error, got %v", err)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	if _, err := run(context.Background(), runConfig(url, modeCreate, 1, 1), http.DefaultClient); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record("scenario", 10*time.Millisecond, http.StatusCreated)
	c.record("scenario", 20*time.Millisecond, http.StatusConflict)
	c.record("CreateOrder", 15*time.Millisecond, 0)

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.SuccessScenarios != 1 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if r.Methods["scenario"].Codes["201"] != 1 || r.Methods["scenario"].Codes["409"] != 1 {
		t.Fatalf("unexpected codes: %+v", r.Methods["scenario"].Codes)
	}
	if r.Methods["CreateOrder"].Codes[transportError] != 1 || r.Methods["CreateOrder"].Failed != 1 {
		t.Fatalf("expected transport error to count as failure: %+v", r.Methods["CreateOrder"])
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 || summary.P50 != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Fatalf("expected empty summary, got %+v", got)
	}
	if p := percentile([]float64{7}, 99); p != 7 {
		t.Fatalf("unexpected single-value percentile: %f", p)
	}

	if shouldRemoveScenario(5, 0) || !shouldRemoveScenario(5, 100) || !shouldRemoveScenario(105, 10) || shouldRemoveScenario(15, 10) {
		t.Fatal("unexpected shouldRemoveScenario result")
	}
	if scenarioFailure(http.StatusOK) != http.StatusInternalServerError || scenarioFailure(http.StatusConflict) != http.StatusConflict {
		t.Fatal("unexpected scenarioFailure result")
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
	if got := formatCodes(map[string]int64{"409": 2, "201": 5}); got != "201:5,409:2" {
		t.Fatalf("unexpected codes format: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, Stock: stockReport{ProductID: 1, Consistent: true}}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || !decoded.Stock.Consistent {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport(".", sample); err == nil {
		t.Fatal("expected error for directory path")
	}
	if err := writeJSONReport("../escape.json", sample); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		TotalScenarios:   3,
		SuccessScenarios: 2,
		FailedScenarios:  1,
		Methods: map[string]methodReport{
			"scenario":    {Calls: 3},
			"CreateOrder": {Calls: 3, Success: 2, Failed: 1, Codes: map[string]int64{"201": 2, "409": 1}},
		},
		Stock: stockReport{ProductID: 4, Before: 5, After: 3, Reserved: 2, Consistent: true},
	}, config{mode: modeCreate, total: 3})

	text := out.String()
	for _, want := range []string{
		"Load test summary",
		"mode=create run=count:3 total=3 success=2 failed=1",
		"stock product=4 before=5 after=3 reserved=2 consistent=true",
		"CreateOrder: calls=3 success=2 failed=1",
		"codes=201:2,409:1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in report:\n%s", want, text)
		}
	}
	if strings.Contains(text, "scenario: calls") {
		t.Fatalf("scenario row must not be printed as a method:\n%s", text)
	}
}
