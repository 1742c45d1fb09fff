package scan

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"fileguard/internal/vision"
)

type fakeAnalyzer struct {
	result  *vision.Result
	err     error
	calls   int
	lastURL string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, imageURL string) (*vision.Result, error) {
	f.calls++
	f.lastURL = imageURL
	return f.result, f.err
}

type panicAnalyzer struct{}

func (panicAnalyzer) Analyze(ctx context.Context, imageURL string) (*vision.Result, error) {
	panic("boom")
}

func TestScore_EmptyFileShortCircuits(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	engine := NewEngine(analyzer)

	report := engine.Score(context.Background(), Input{
		Name:     "a.jpg",
		Size:     0,
		MimeType: "image/jpeg",
		URL:      "https://example.com/a.jpg",
	})

	if report.HealthScore != 0 {
		t.Fatalf("expected score 0 for empty file, got %d", report.HealthScore)
	}
	want := []string{"Critical: File is empty (0 bytes)."}
	if !reflect.DeepEqual(report.Issues, want) {
		t.Fatalf("expected only the empty-file issue, got %v", report.Issues)
	}
	if report.Action != ActionCritical {
		t.Fatalf("expected critical action, got %q", report.Action)
	}
	if analyzer.calls != 0 {
		t.Fatalf("analyzer must not run for empty files, got %d calls", analyzer.calls)
	}
}

func TestScore_SmallCopyImage(t *testing.T) {
	engine := NewEngine(nil)

	report := engine.Score(context.Background(), Input{
		Name:     "photo_copy(1).png",
		Size:     500,
		MimeType: "image/png",
	})

	// 基线 100 - 抖动 2 - 小图 5 - 文件名 8
	if report.HealthScore != 85 {
		t.Fatalf("expected score 85, got %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "unusually small")
	assertContainsIssue(t, report.Issues, "Duplicate or backup artifact")
	if report.Action != ActionMinor {
		t.Fatalf("expected minor action, got %q", report.Action)
	}
}

func TestScore_PDFSkipsVision(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	engine := NewEngine(analyzer)

	report := engine.Score(context.Background(), Input{
		Name:     "report.pdf",
		Size:     50000,
		MimeType: "application/pdf",
		URL:      "https://example.com/report.pdf",
	})

	if analyzer.calls != 0 {
		t.Fatalf("non-image files must not trigger remote analysis")
	}
	if report.HealthScore < 95 {
		t.Fatalf("expected near-perfect score, got %d", report.HealthScore)
	}
	if report.Action != ActionPerfect && report.Action != ActionHealthy {
		t.Fatalf("unexpected action %q", report.Action)
	}
	if len(report.Issues) == 0 {
		t.Fatal("issue list must never be empty")
	}
}

func TestScore_AnalyzerUnavailableIsInformational(t *testing.T) {
	analyzer := &fakeAnalyzer{
		err: fmt.Errorf("%w: Connection Failed: Edge Function not deployed", vision.ErrUnavailable),
	}
	engine := NewEngine(analyzer)

	report := engine.Score(context.Background(), Input{
		Name:     "scan.jpg",
		Size:     5000,
		MimeType: "image/jpeg",
		URL:      "https://example.com/scan.jpg",
	})

	// 抖动 (8+5000)%5 = 3，服务不可用不再扣分
	if report.HealthScore != 97 {
		t.Fatalf("unavailable analyzer must not penalize, got score %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "not deployed")
	for _, issue := range report.Issues {
		if strings.HasPrefix(issue, "Error:") {
			t.Fatalf("expected informational note, got error-class issue %q", issue)
		}
	}
}

func TestScore_ProviderErrorPenalized(t *testing.T) {
	analyzer := &fakeAnalyzer{
		err: &vision.ProviderError{Code: 400, Message: "invalid image payload"},
	}
	engine := NewEngine(analyzer)

	report := engine.Score(context.Background(), Input{
		Name:     "scan.jpg",
		Size:     5000,
		MimeType: "image/jpeg",
		URL:      "https://example.com/scan.jpg",
	})

	if report.HealthScore != 97-penaltyProvider {
		t.Fatalf("expected provider penalty, got score %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "AI Analysis failed")
}

func TestScore_VisionFindings(t *testing.T) {
	analyzer := &fakeAnalyzer{
		result: &vision.Result{
			Labels: []vision.Label{
				{Description: "Blur", Score: 0.9},
				{Description: "Cat", Score: 0.8},
				{Description: "Animal", Score: 0.7},
				{Description: "Pet", Score: 0.6},
			},
			FullText:       "hello",
			SafeSearch:     &vision.SafeSearch{Adult: "LIKELY", Violence: "UNLIKELY"},
			DominantColors: []vision.Color{{Red: 255, Green: 255, Blue: 255, Score: 1}},
		},
	}
	engine := NewEngine(analyzer)

	report := engine.Score(context.Background(), Input{
		Name:     "x.png",
		Size:     5000,
		MimeType: "image/png",
		URL:      "https://example.com/x.png",
	})

	// 抖动 0，模糊 15 + 敏感内容 20 + 低色彩差异 10
	want := 100 - penaltyBlur - penaltySensitive - penaltyFlatColor
	if report.HealthScore != want {
		t.Fatalf("expected score %d, got %d", want, report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "AI Identified: Blur, Cat, Animal")
	assertContainsIssue(t, report.Issues, "Detected 5 characters")
	assertContainsIssue(t, report.Issues, "blurry")
	assertContainsIssue(t, report.Issues, "sensitive content")
	assertContainsIssue(t, report.Issues, "Low color variance")
	if report.Action != ActionQuality {
		t.Fatalf("expected quality action, got %q", report.Action)
	}
}

func TestScore_Purity(t *testing.T) {
	analyzer := &fakeAnalyzer{
		result: &vision.Result{
			Labels:   []vision.Label{{Description: "Document", Score: 0.9}},
			FullText: "text",
		},
	}
	engine := NewEngine(analyzer)

	in := Input{Name: "doc.png", Size: 4096, MimeType: "image/png", URL: "https://example.com/doc.png"}

	first := engine.Score(context.Background(), in)
	second := engine.Score(context.Background(), in)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must yield identical reports:\n%+v\n%+v", first, second)
	}
}

func TestScore_ClampedToRange(t *testing.T) {
	analyzer := &fakeAnalyzer{
		err: &vision.ProviderError{Message: "broken"},
	}
	engine := NewEngine(analyzer)

	inputs := []Input{
		{Name: strings.Repeat("backup_copy(", 10) + ".jpg", Size: 100, MimeType: "image/jpeg", URL: "u"},
		{Name: "ok.txt", Size: 10, MimeType: "text/plain"},
		{Name: "", Size: 0, MimeType: ""},
		{Name: "big.bin", Size: 64 * 1024 * 1024, MimeType: "application/octet-stream"},
	}

	for _, in := range inputs {
		report := engine.Score(context.Background(), in)
		if report.HealthScore < 0 || report.HealthScore > 100 {
			t.Fatalf("score out of range for %q: %d", in.Name, report.HealthScore)
		}
		if len(report.Issues) == 0 {
			t.Fatalf("issue list empty for %q", in.Name)
		}
		switch report.Action {
		case ActionPerfect, ActionHealthy, ActionMinor, ActionQuality, ActionCritical:
		default:
			t.Fatalf("unknown action %q", report.Action)
		}
	}
}

func TestScore_FallbackIssueWhenCleanButImperfect(t *testing.T) {
	engine := NewEngine(nil)

	report := engine.Score(context.Background(), Input{
		Name:     "notes.txt",
		Size:     2000,
		MimeType: "text/plain",
	})

	// 只有抖动扣分，没有任何检查命中
	if report.HealthScore != 96 {
		t.Fatalf("expected score 96, got %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "Minor encoding inefficiencies")
}

func TestScore_SimulatedAnalyzerFlagged(t *testing.T) {
	engine := NewEngine(vision.Simulated{})

	report := engine.Score(context.Background(), Input{
		Name:     "photo.png",
		Size:     4096,
		MimeType: "image/png",
		URL:      "https://example.com/photo.png",
	})

	if !report.Simulated {
		t.Fatal("report must carry the simulated flag")
	}
	// 模拟结论全部是信息条目，不产生扣分
	if report.HealthScore != 100 {
		t.Fatalf("expected score 100, got %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "AI Identified: Digital Artifact")
}

func TestScore_AnalyzerPanicContained(t *testing.T) {
	engine := NewEngine(panicAnalyzer{})

	report := engine.Score(context.Background(), Input{
		Name:     "scan.jpg",
		Size:     5000,
		MimeType: "image/jpeg",
		URL:      "https://example.com/scan.jpg",
	})

	if report.HealthScore != 97 {
		t.Fatalf("panic in analysis must not change the score, got %d", report.HealthScore)
	}
	assertContainsIssue(t, report.Issues, "AI Scan skipped")
}

func TestStateForScore(t *testing.T) {
	cases := []struct {
		score int
		want  HealthState
	}{
		{0, HealthCorrupted},
		{59, HealthCorrupted},
		{60, HealthWarning},
		{89, HealthWarning},
		{90, HealthHealthy},
		{100, HealthHealthy},
	}
	for _, tc := range cases {
		if got := StateForScore(tc.score); got != tc.want {
			t.Fatalf("StateForScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func assertContainsIssue(t *testing.T, issues []string, fragment string) {
	t.Helper()
	for _, issue := range issues {
		if strings.Contains(issue, fragment) {
			return
		}
	}
	t.Fatalf("no issue containing %q in %v", fragment, issues)
}
