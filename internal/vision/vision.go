package vision

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable 表示分析服务不可用（未配置、网络不通、API 被禁用）。
// 调用方应降级处理而不是把它当成分析失败。
var ErrUnavailable = errors.New("vision: analyzer unavailable")

// ProviderError 表示服务端返回的实质性分析错误。
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("vision provider: %s (code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("vision provider: %s", e.Message)
}

// Analyzer 给定可获取的图像地址，返回结构化分析结论。
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (*Result, error)
}

// Result 汇总一次图像分析的结构化结论。
type Result struct {
	Labels         []Label
	FullText       string
	SafeSearch     *SafeSearch
	DominantColors []Color
	Simulated      bool // 结论来自显式模拟模式
}

// Label 是一个带置信度的图像标签。
type Label struct {
	Description string
	Score       float64
}

// SafeSearch 承载内容安全判定，取值为 VERY_UNLIKELY 到 VERY_LIKELY 的档位。
type SafeSearch struct {
	Adult    string
	Spoof    string
	Medical  string
	Violence string
	Racy     string
}

// Flagged 判断是否命中敏感内容（成人或暴力达到 LIKELY 以上）。
func (s *SafeSearch) Flagged() bool {
	if s == nil {
		return false
	}
	return likely(s.Adult) || likely(s.Violence)
}

func likely(verdict string) bool {
	return verdict == "LIKELY" || verdict == "VERY_LIKELY"
}

// Color 是主色调统计中的一项。
type Color struct {
	Red           int
	Green         int
	Blue          int
	Score         float64
	PixelFraction float64
}
