package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fileguard/internal/vision"
)

// 五档推荐动作，按分数区间从高到低。
const (
	ActionPerfect  = "File is in perfect condition."
	ActionHealthy  = "File is healthy. Standard backup recommended."
	ActionMinor    = "Minor issues detected. Consider organizing metadata."
	ActionQuality  = "Quality issues found. Re-uploading a clearer version is advised."
	ActionCritical = "CRITICAL: File is corrupted or unsafe. Isolate immediately."
)

const (
	smallImageBytes  = 2048
	largeFileBytes   = 15 * 1024 * 1024
	longNameLength   = 50
	maxVisionLabels  = 3
	penaltyProvider  = 15
	penaltyBlur      = 15
	penaltySensitive = 20
	penaltyFlatColor = 10
)

// Input 描述一次打分所需的全部文件元信息。
// URL 为空时跳过远端图像分析，只做本地启发式检查。
type Input struct {
	Name     string
	Size     int64
	MimeType string
	URL      string
}

// Report 是打分结论：分数恒在 [0,100]，问题列表恒非空。
type Report struct {
	HealthScore int      `json:"health_score"`
	Issues      []string `json:"issues"`
	Action      string   `json:"action"`
	Simulated   bool     `json:"simulated,omitempty"`
}

// Engine 组合本地启发式检查和可选的远端图像分析。
// Score 永不失败：远端调用的一切错误都收敛为问题条目或信息备注。
type Engine struct {
	analyzer vision.Analyzer
}

func NewEngine(analyzer vision.Analyzer) *Engine {
	return &Engine{analyzer: analyzer}
}

// Score 对同样的输入（含同样的远端分析结论）恒返回同样的结果。
func (e *Engine) Score(ctx context.Context, in Input) Report {
	score := 100
	var issues []string

	// 基线抖动：只为避免所有健康文件都报告同一个 100 分，
	// 不构成真实的完整性信号。
	score -= int((int64(len(in.Name)) + in.Size) % 5)

	// 空文件是硬性下限：判 0 分并跳过全部后续检查。
	if in.Size == 0 {
		return finalize(0, []string{"Critical: File is empty (0 bytes)."})
	}

	lowerType := strings.ToLower(in.MimeType)
	isImage := strings.Contains(lowerType, "image") ||
		strings.Contains(lowerType, "png") ||
		strings.Contains(lowerType, "jpg") ||
		strings.Contains(lowerType, "jpeg")

	// 大小检查，两条互斥，小图优先
	if in.Size < smallImageBytes && strings.Contains(lowerType, "image") {
		score -= 5
		issues = append(issues, "Warning: File size is unusually small for an image (Low Quality).")
	} else if in.Size > largeFileBytes {
		score -= 10
		issues = append(issues, "Large file size (>15MB) increases risk of bit rot.")
	}

	// 文件名检查，两条可同时命中
	lowerName := strings.ToLower(in.Name)
	if strings.Contains(lowerName, "copy") || strings.Contains(lowerName, "(") || strings.Contains(lowerName, "backup") {
		score -= 8
		issues = append(issues, "Duplicate or backup artifact detected in filename.")
	}
	if len(in.Name) > longNameLength {
		score -= 3
		issues = append(issues, "Filename is excessively long (Metadata risk).")
	}

	// 类型检查
	if !isImage && !strings.Contains(lowerType, "pdf") && !strings.Contains(lowerType, "text") {
		score -= 5
		issues = append(issues, "Unknown file format schema.")
	}

	simulated := false
	if isImage && in.URL != "" && e != nil && e.analyzer != nil {
		delta, notes, fromSimulation := e.visionFindings(ctx, in.URL)
		score -= delta
		issues = append(issues, notes...)
		simulated = fromSimulation
	}

	report := finalize(score, issues)
	report.Simulated = simulated
	return report
}

// visionFindings 执行远端图像分析并把结论折算成扣分和问题条目。
// 本步骤的任何异常都就地捕获，绝不影响已完成的本地检查。
func (e *Engine) visionFindings(ctx context.Context, imageURL string) (delta int, notes []string, simulated bool) {
	defer func() {
		if r := recover(); r != nil {
			delta = 0
			notes = []string{"Error: AI Scan skipped due to internal error."}
			simulated = false
		}
	}()

	result, err := e.analyzer.Analyze(ctx, imageURL)
	if err != nil {
		if errors.Is(err, vision.ErrUnavailable) {
			// 服务不可用按降级处理，不扣分
			return 0, []string{fmt.Sprintf("Info: AI analysis skipped (%v).", err)}, false
		}
		return penaltyProvider, []string{fmt.Sprintf("Error: AI Analysis failed - %v", err)}, false
	}
	if result == nil {
		return 0, nil, false
	}

	if len(result.Labels) > 0 {
		top := make([]string, 0, maxVisionLabels)
		for _, label := range result.Labels {
			top = append(top, label.Description)
			if len(top) == maxVisionLabels {
				break
			}
		}
		notes = append(notes, "AI Identified: "+strings.Join(top, ", "))
	}

	if result.FullText != "" {
		notes = append(notes, fmt.Sprintf("AI Text Scan: Detected %d characters of text.", len(result.FullText)))
	}

	for _, label := range result.Labels {
		if strings.Contains(strings.ToLower(label.Description), "blur") {
			delta += penaltyBlur
			notes = append(notes, "Issue: AI detected image is blurry.")
			break
		}
	}

	if result.SafeSearch.Flagged() {
		delta += penaltySensitive
		notes = append(notes, "Warning: AI flagged sensitive content.")
	}

	// 主色调过少通常意味着空白或损坏的扫描件
	if len(result.DominantColors) == 1 {
		delta += penaltyFlatColor
		notes = append(notes, "Issue: Low color variance (Possible blank scan).")
	}

	return delta, notes, result.Simulated
}

func finalize(score int, issues []string) Report {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	var action string
	switch {
	case score == 100:
		action = ActionPerfect
	case score >= 90:
		action = ActionHealthy
	case score >= 75:
		action = ActionMinor
	case score >= 50:
		action = ActionQuality
	default:
		action = ActionCritical
	}

	// 返回给调用方的问题列表永不为空
	if len(issues) == 0 && score < 100 {
		issues = append(issues, "Info: Minor encoding inefficiencies detected.")
	}
	if len(issues) == 0 {
		issues = append(issues, "Info: Integrity check passed.")
	}

	return Report{HealthScore: score, Issues: issues, Action: action}
}
