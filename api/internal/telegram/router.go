package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"safety-proxy/api/internal/safety"
	"safety-proxy/api/internal/store"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Service interface {
	EngineNames() []string
	EngineName(name string) (string, error)
	AnalyzePhoto(ctx context.Context, req safety.PhotoRequest) (*safety.PhotoResponse, error)
	AssessRisk(ctx context.Context, req safety.AssessRequest) (*safety.AssessResponse, error)
	AdditionalHazards(ctx context.Context, req safety.AdditionalRequest) (*safety.AdditionalResponse, error)
	Ask(ctx context.Context, req safety.AskRequest) (string, error)
	LatestAssessment(ctx context.Context, chatID int64) (*store.Assessment, error)
}

type Router struct {
	Bot     Bot
	Svc     Service
	Timeout time.Duration
	Log     *slog.Logger

	chats sync.Map // chatID -> *chatState
}

func New(bot Bot, svc Service, timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{Bot: bot, Svc: svc, Timeout: timeout, Log: logger}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// callback-кнопки
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message

	switch {
	case len(msg.Photo) > 0 || isImageDocument(msg):
		r.acceptPhoto(ctx, msg)
	case msg.IsCommand():
		r.HandleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		r.ask(ctx, msg.Chat.ID, msg.Text, nil)
	}
}

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "health":
		r.send(cid, "✅ OK")
	case "engine":
		r.handleEngineCommand(cid, args)
	case "risk":
		if args == "" {
			r.send(cid, "사용법: /risk <공정명>\n예: /risk 철골 조립")
			return
		}
		r.state(cid).SetPending(args)
		r.send(cid, "공정 \""+args+"\" 위험성 평가를 위해 현장 사진을 보내 주세요.\n사진 없이 진행하려면 /risk_text 를 보내세요.")
	case "risk_text":
		process := r.state(cid).TakePending()
		if process == "" {
			r.send(cid, "먼저 /risk <공정명> 을 보내 주세요.")
			return
		}
		r.assess(ctx, cid, process, "", nil)
	case "more":
		r.more(ctx, cid)
	case "ask":
		if args == "" {
			r.send(cid, "사용법: /ask <질문>")
			return
		}
		r.ask(ctx, cid, args, nil)
	case "reset":
		r.state(cid).Reset()
		r.send(cid, "대화 기록을 초기화했습니다.")
	default:
		r.send(cid, "알 수 없는 명령입니다. /help 를 확인하세요.")
	}
}

// handleEngineCommand switches the chat's engine.
//
//	/engine
//	/engine gemini
//	/engine gpt
func (r *Router) handleEngineCommand(chatID int64, args string) {
	st := r.state(chatID)
	fields := strings.Fields(args)
	if len(fields) == 0 {
		cur, err := r.Svc.EngineName(st.Engine())
		if err != nil {
			cur = "-"
		}
		r.send(chatID, "현재 엔진: "+cur+"\n사용 가능: "+strings.Join(r.Svc.EngineNames(), " | "))
		return
	}
	name, err := r.Svc.EngineName(fields[0])
	if err != nil {
		r.send(chatID, "알 수 없는 엔진입니다. 사용 가능: "+strings.Join(r.Svc.EngineNames(), " | "))
		return
	}
	st.SetEngine(name)
	r.send(chatID, "✅ 엔진: "+name)
}

func (r *Router) assess(ctx context.Context, chatID int64, process, caption string, img *mediaInput) {
	st := r.state(chatID)
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	r.typing(chatID)

	req := safety.AssessRequest{Engine: st.Engine(), ProcessName: process, Context: caption, ChatID: chatID}
	if img != nil {
		req.Media = &img.raw
	}
	out, err := r.Svc.AssessRisk(ctx, req)
	if err != nil {
		r.fail(chatID, "assess", err)
		return
	}
	st.SetLast(&lastAssessment{ID: out.AssessmentID, ProcessName: process, Hazards: out.Hazards})

	msg := tgbotapi.NewMessage(chatID, clip(formatHazards("📊 위험성 평가: "+process, out.Hazards)))
	msg.ReplyMarkup = makeMoreKeyboard()
	r.sendMsg(msg)
}

func (r *Router) more(ctx context.Context, chatID int64) {
	st := r.state(chatID)
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	last := st.Last()
	if last == nil {
		// после рестарта берём последнюю сохранённую оценку
		a, err := r.Svc.LatestAssessment(ctx, chatID)
		if err != nil {
			r.send(chatID, "먼저 /risk 로 위험성 평가를 진행해 주세요.")
			return
		}
		last = &lastAssessment{ID: a.ID, ProcessName: a.ProcessName, Hazards: a.Hazards}
	}
	r.typing(chatID)

	req := safety.AdditionalRequest{Engine: st.Engine(), AssessmentID: last.ID, ProcessName: last.ProcessName}
	if last.ID == "" {
		for _, h := range last.Hazards {
			req.Existing = append(req.Existing, h.Description)
		}
	}
	out, err := r.Svc.AdditionalHazards(ctx, req)
	if err != nil {
		r.fail(chatID, "more", err)
		return
	}
	all := out.Hazards
	if all == nil {
		all = append(last.Hazards, out.Added...)
	}
	st.SetLast(&lastAssessment{ID: last.ID, ProcessName: last.ProcessName, Hazards: all})

	msg := tgbotapi.NewMessage(chatID, clip(formatHazards("➕ 추가 위험 요소: "+last.ProcessName, out.Added)))
	if len(out.Added) > 0 {
		msg.ReplyMarkup = makeMoreKeyboard()
	}
	r.sendMsg(msg)
}

func (r *Router) ask(ctx context.Context, chatID int64, question string, img *mediaInput) {
	st := r.state(chatID)
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	r.typing(chatID)

	req := safety.AskRequest{Engine: st.Engine(), Question: question, History: st.History()}
	if img != nil {
		req.Media = &img.raw
	}
	answer, err := r.Svc.Ask(ctx, req)
	if err != nil {
		r.fail(chatID, "ask", err)
		return
	}
	st.Remember(question, answer)
	r.send(chatID, clip(answer))
}

func (r *Router) fail(chatID int64, op string, err error) {
	r.Log.Warn("telegram request failed", "chat", chatID, "op", op, "err", err)
	r.send(chatID, errorText(err))
}

func (r *Router) typing(chatID int64) {
	_, _ = r.Bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
}

func (r *Router) send(chatID int64, text string) {
	r.sendMsg(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) sendMsg(msg tgbotapi.MessageConfig) {
	if _, err := r.Bot.Send(msg); err != nil {
		r.Log.Warn("telegram send failed", "chat", msg.ChatID, "err", err)
	}
}
