package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"254712345678", "254712345678", true},
		{"+254712345678", "254712345678", true},
		{"0712345678", "254712345678", true},
		{"0112 345 678", "254112345678", true},
		{"+1 (415) 555-0100", "14155550100", true},
		{"", "", false},
		{"12345", "", false},
		{"07123abc78", "", false},
		{"+2547123456789012345", "", false},
	}

	for _, tc := range tests {
		got, ok := NormalizePhone(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("NormalizePhone(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	if m, ok := NormalizeMethod(" PayPal "); !ok || m != MethodPayPal {
		t.Errorf("NormalizeMethod(PayPal) = %q, %v", m, ok)
	}
	if _, ok := NormalizeMethod("cheque"); ok {
		t.Error("cheque should be rejected")
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"he\x00llo", 10, "hello"},
		{"", 10, ""},
	}

	for _, tc := range tests {
		if got := SanitizeString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("destination", ""),
		ValidMethod("method", "cheque"),
		ValidPhone("phone", "abc"),
		MaxLength("note", "ok", 10),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "destination: is required" {
		t.Errorf("unexpected first error: %s", errs.Error())
	}

	if errs := Validate(Required("a", "x"), ValidPhone("phone", "")); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/x", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}
