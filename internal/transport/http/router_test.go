package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"argus-vision-server/internal/domain/dispatch"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: "error",
		LogDir:   t.TempDir(),
		LogFile:  "test.log",
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestBuild_RequiresConfig(t *testing.T) {
	if _, err := Build(Options{}); err == nil {
		t.Fatal("expected an error without config")
	}
}

func TestBuild_HealthAndBanner(t *testing.T) {
	cfg := config.DefaultConfig()
	router, err := Build(Options{Config: cfg, Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz returned %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("banner returned %d", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind dispatch.ErrorKind
		want int
	}{
		{dispatch.KindMalformed, http.StatusBadRequest},
		{dispatch.KindUnsupported, http.StatusBadRequest},
		{dispatch.KindTooLarge, http.StatusBadRequest},
		{dispatch.KindOverloaded, http.StatusServiceUnavailable},
		{dispatch.KindResourceExhausted, http.StatusServiceUnavailable},
		{dispatch.KindTimeout, http.StatusGatewayTimeout},
		{dispatch.KindProcessing, http.StatusInternalServerError},
		{dispatch.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForKind(tt.kind); got != tt.want {
			t.Errorf("StatusForKind(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
