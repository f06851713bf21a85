package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
		expectText string
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
			expectText: "file not found: no such file",
		},
		{
			name:       "extraction error",
			category:   CategoryExtraction,
			code:       CodeEmptyText,
			message:    "no text",
			expectCode: 3,
			expectText: "no text",
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("missing field"),
			expectCode: 4,
			expectText: "invalid config: missing field",
		},
		{
			name:       "storage error",
			category:   CategoryStorage,
			code:       CodeStoreFailure,
			message:    "write failed",
			expectCode: 6,
			expectText: "write failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.expectText {
				t.Errorf("expected error string %q, got %q", tt.expectText, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a captured stack trace")
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryFile, CodeFileNotFound, "test error").
		WithContext("file", "/path/to/file").
		WithContext("line", 42).
		WithSuggestion("check file path")

	if err.Context["file"] != "/path/to/file" {
		t.Errorf("expected file context '/path/to/file', got %v", err.Context["file"])
	}
	if err.Context["line"] != 42 {
		t.Errorf("expected line context 42, got %v", err.Context["line"])
	}

	expected := "test error (suggestion: check file path)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}

	keys := err.ContextKeys()
	if len(keys) != 2 || keys[0] != "file" || keys[1] != "line" {
		t.Errorf("expected sorted keys [file line], got %v", keys)
	}
}

func TestExtractionError(t *testing.T) {
	text := "\n  ACME GIDA  \nFatura Tarihi 01.02.2024\n\nDomates 10 KG\n"
	diag := NewDiagnostics(text, 2, "alphanumeric token scan")
	err := ExtractionError(CodeNoInvoiceNumber, "inv.pdf", diag, nil)

	if err.Category != CategoryExtraction {
		t.Errorf("expected extraction category, got %s", err.Category)
	}
	if err.Context["stage"] != "header_extraction" {
		t.Errorf("expected header_extraction stage, got %v", err.Context["stage"])
	}
	if err.Context["text_length"] != len(text) {
		t.Errorf("expected text_length %d, got %v", len(text), err.Context["text_length"])
	}
	samples, ok := err.Context["sample_lines"].([]string)
	if !ok || len(samples) != 2 {
		t.Fatalf("expected 2 sample lines, got %v", err.Context["sample_lines"])
	}
	if samples[0] != "ACME GIDA" {
		t.Errorf("expected trimmed first line, got %q", samples[0])
	}
	if err.Context["fallback_attempted"] != "alphanumeric token scan" {
		t.Errorf("expected fallback context, got %v", err.Context["fallback_attempted"])
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("FileError", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := FileError(CodeFilePermission, "/test/catalog.csv", cause)

		if err.Category != CategoryFile {
			t.Errorf("expected file category, got %s", err.Category)
		}
		if err.Context["file_path"] != "/test/catalog.csv" {
			t.Errorf("expected file_path context, got %v", err.Context["file_path"])
		}
		if err.Suggestion == "" {
			t.Error("expected suggestion to be set")
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidData, "list_a.csv", 10, "list_price", "12.3.4", nil)

		if err.Category != CategoryParse {
			t.Errorf("expected parse category, got %s", err.Category)
		}
		if err.Context["line"] != 10 {
			t.Errorf("expected line context, got %v", err.Context["line"])
		}
	})

	t.Run("StorageError", func(t *testing.T) {
		err := StorageError("save_run", errors.New("locked"))
		if err.GetExitCode() != 6 {
			t.Errorf("expected exit code 6, got %d", err.GetExitCode())
		}
	})
}

func TestAsReconcilerErrorThroughWrapping(t *testing.T) {
	inner := ReconciliationError(CodeDuplicateInvoice, "batch", nil)
	wrapped := fmt.Errorf("run failed: %w", inner)

	got, ok := AsReconcilerError(wrapped)
	if !ok {
		t.Fatal("expected to find ReconcilerError in chain")
	}
	if got.Code != CodeDuplicateInvoice {
		t.Errorf("expected duplicate code, got %s", got.Code)
	}
	if !HasCode(wrapped, CodeDuplicateInvoice) {
		t.Error("expected HasCode to report true")
	}
	if HasCode(errors.New("plain"), CodeDuplicateInvoice) {
		t.Error("expected HasCode to report false for plain errors")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryFile, CodeFileNotFound, "error 1"),
		New(CategoryParse, CodeInvalidData, "error 2"),
		New(CategoryParse, CodeInvalidData, "error 3"),
		New(CategoryStorage, CodeStoreFailure, "error 4"),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryParse] != 2 {
		t.Errorf("expected 2 parse errors, got %d", summary.ByCategory[CategoryParse])
	}
	if !summary.HasCode(CodeStoreFailure) {
		t.Error("expected store failure code")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected highest exit code 6, got %d", summary.GetExitCode())
	}
	if !strings.HasPrefix(summary.Error(), "4 errors occurred") {
		t.Errorf("unexpected summary text %q", summary.Error())
	}

	empty := NewErrorSummary(nil)
	if empty.GetExitCode() != 0 || empty.Error() != "no errors" {
		t.Errorf("unexpected empty summary: %d %q", empty.GetExitCode(), empty.Error())
	}
}

func TestLineErrorCollector(t *testing.T) {
	collector := NewLineErrorCollector(2)
	collector.Add(NewLineParseError(CodeNoProductCode, LineContext{Line: 3, Span: 1}, "no code"))
	collector.Add(NewLineParseError(CodeInvalidLineItem, LineContext{Line: 5, Span: 2, Code: "153.01.0042"}, "unit price <= 0"))
	collector.Add(NewLineParseError(CodeNoProductCode, LineContext{Line: 9, Span: 1}, "no code"))

	if collector.Count() != 3 {
		t.Errorf("expected 3 failures, got %d", collector.Count())
	}
	if len(collector.Errors()) != 2 {
		t.Errorf("expected 2 kept failures, got %d", len(collector.Errors()))
	}
	if collector.CountByCode(CodeNoProductCode) != 2 {
		t.Errorf("expected 2 no-code failures, got %d", collector.CountByCode(CodeNoProductCode))
	}

	second := collector.Errors()[1]
	if !strings.Contains(second.Error(), "lines 5-6") {
		t.Errorf("expected span in message, got %q", second.Error())
	}

	text := FormatLineErrorsForUser(collector.Errors(), 1)
	if !strings.Contains(text, "... and 1 more") {
		t.Errorf("expected truncation marker, got %q", text)
	}
}
