package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/safety"
)

// maxDownload caps a Telegram file download; the Bot API serves at most 20 MB.
const maxDownload = 20 << 20

type mediaInput struct {
	raw media.RawMedia
}

func isImageDocument(msg *tgbotapi.Message) bool {
	return msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/")
}

// acceptPhoto routes a photo: "/ask ..." caption → Q&A, pending /risk →
// risk assessment, otherwise a photo analysis with the caption as context.
func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	img, err := r.fetchImage(ctx, msg)
	if err != nil {
		r.Log.Warn("photo download failed", "chat", cid, "err", err)
		r.send(cid, "사진을 받지 못했습니다: "+err.Error())
		return
	}

	caption := strings.TrimSpace(msg.Caption)
	if q, ok := askCaption(caption); ok {
		if q == "" {
			q = "이 사진의 안전 문제를 설명해 주세요."
		}
		r.ask(ctx, cid, q, img)
		return
	}
	if process := r.state(cid).TakePending(); process != "" {
		r.send(cid, "사진을 받았습니다. 위험성 평가 중…")
		r.assess(ctx, cid, process, caption, img)
		return
	}

	r.send(cid, "사진을 받았습니다. 분석 중…")
	r.analyze(ctx, cid, caption, img)
}

// askCaption reports whether a caption is the /ask command ("/ask", "/ask@bot"
// or "/ask <question>") and returns the question.
func askCaption(caption string) (string, bool) {
	cmd, q := caption, ""
	if i := strings.IndexFunc(caption, unicode.IsSpace); i >= 0 {
		cmd, q = caption[:i], caption[i:]
	}
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd != "/ask" {
		return "", false
	}
	return strings.TrimSpace(q), true
}

func (r *Router) analyze(ctx context.Context, chatID int64, caption string, img *mediaInput) {
	st := r.state(chatID)
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	r.typing(chatID)

	out, err := r.Svc.AnalyzePhoto(ctx, safety.PhotoRequest{
		Engine: st.Engine(), Media: img.raw, Context: caption, ChatID: chatID,
	})
	if err != nil {
		r.fail(chatID, "analyze", err)
		return
	}
	r.send(chatID, clip(formatPhotoAnalysis(out.Analysis)))
}

func (r *Router) fetchImage(ctx context.Context, msg *tgbotapi.Message) (*mediaInput, error) {
	var fileID, hint string
	switch {
	case len(msg.Photo) > 0:
		// последний размер самый большой
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		fileID, hint = msg.Document.FileID, msg.Document.MimeType
	default:
		return nil, fmt.Errorf("no image in message")
	}
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	data, err := download(ctx, url)
	if err != nil {
		return nil, err
	}
	return &mediaInput{raw: media.RawMedia{Data: data, MIMEType: media.PickMIME("", hint, data)}}, nil
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
