package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/normalize"
	"safety-proxy/api/internal/pipeline"
)

const (
	maxMessageRunes = 3900
	cbMore          = "risk_more"
)

const helpText = `현장 사진을 보내면 위험 요소와 대책을 분석합니다.

/risk <공정명> - 다음 사진으로 위험성 평가
/more - 마지막 평가에 추가 위험 요소
/ask <질문> - 안전 관련 질문 (사진 캡션으로도 가능)
/engine [gemini|gpt] - AI 엔진 확인/변경
/reset - 대화 기록 초기화`

// Кнопка "ещё опасности" под результатом оценки
func makeMoreKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("추가 위험 요소 찾기", cbMore)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

// clip keeps a reply under the Telegram message limit without splitting a rune.
func clip(s string) string {
	rs := []rune(s)
	if len(rs) <= maxMessageRunes {
		return s
	}
	return string(rs[:maxMessageRunes]) + "…"
}

func formatPhotoAnalysis(a normalize.PhotoAnalysis) string {
	var b strings.Builder
	section := func(title string, items []string) {
		b.WriteString(title)
		b.WriteString("\n")
		if len(items) == 0 {
			b.WriteString("- 없음\n")
		}
		for _, it := range items {
			b.WriteString("- ")
			b.WriteString(it)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	section("⚠️ 위험 요소", a.Hazards)
	section("🛠 공학적 대책", a.EngineeringSolutions)
	section("📋 관리적 대책", a.ManagementSolutions)
	section("📜 관련 법규", a.RelatedRegulations)
	return strings.TrimSpace(b.String())
}

func levelKo(h normalize.Hazard) string {
	switch h.Level() {
	case "high":
		return "높음"
	case "medium":
		return "보통"
	default:
		return "낮음"
	}
}

func formatHazards(title string, hs []normalize.Hazard) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	if len(hs) == 0 {
		b.WriteString("\n찾은 위험 요소가 없습니다.")
		return b.String()
	}
	for i, h := range hs {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, h.Description)
		fmt.Fprintf(&b, "   심각도 %d × 가능성 %d = %d (%s)\n", h.Severity, h.Likelihood, h.Score(), levelKo(h))
		fmt.Fprintf(&b, "   대책: %s\n", h.Countermeasures)
	}
	return strings.TrimSpace(b.String())
}

// errorText turns a service error into a message for the chat.
func errorText(err error) string {
	var se *pipeline.StageError
	switch {
	case errors.Is(err, media.ErrDecode):
		return "❌ 사진을 읽을 수 없습니다. JPEG 또는 PNG로 다시 보내 주세요."
	case errors.Is(err, ai.ErrUnknownEngine):
		return "❌ 알 수 없는 엔진입니다. /engine 으로 확인하세요."
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ 응답 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요."
	case errors.As(err, &se) && pipeline.Retryable(err):
		return "⚠️ AI 응답을 처리하지 못했습니다 (" + string(se.Stage) + "). 다시 시도해 주세요."
	default:
		return "❌ 오류: " + err.Error()
	}
}
