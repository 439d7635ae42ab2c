package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

// messageLimit is Discord's maximum message length.
const messageLimit = 2000

const commandTimeout = 10 * time.Second

func HandleStory(s *discordgo.Session, i *discordgo.InteractionCreate, svc *story.Service) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		respondText(s, i, "サブコマンドが指定されていません")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sub := data.Options[0]
	switch sub.Name {
	case "show":
		st, err := svc.Latest()
		if err != nil {
			respondError(s, i, err)
			return
		}
		respondChunks(s, i, SplitMessage(FormatState(st.State()), messageLimit))
	case "list":
		respondChunks(s, i, SplitMessage(FormatSummaries(svc.List()), messageLimit))
	case "add":
		text := getStringOption(sub.Options, "text")
		if text == nil {
			respondText(s, i, "text の指定が必要です")
			return
		}
		st, err := svc.Current(ctx)
		if err != nil {
			respondError(s, i, err)
			return
		}
		line, err := st.AddLine(ctx, *text, story.DiscordAddress(interactionUserID(i)))
		if err != nil {
			respondError(s, i, err)
			return
		}
		respondText(s, i, lineAddedMessage(line, st.Info().MaxLines))
	case "donate":
		raw := getStringOption(sub.Options, "amount")
		if raw == nil {
			respondText(s, i, "amount の指定が必要です")
			return
		}
		amount, err := story.ParseAmount(*raw)
		if err != nil {
			respondText(s, i, fmt.Sprintf("金額を解釈できませんでした: %s", *raw))
			return
		}
		st, err := svc.Current(ctx)
		if err != nil {
			respondError(s, i, err)
			return
		}
		balance, err := st.Donate(ctx, amount, story.DiscordAddress(interactionUserID(i)))
		if err != nil {
			respondError(s, i, err)
			return
		}
		respondText(s, i, fmt.Sprintf("%s を寄付しました (報酬プール: %s)", amount, balance))
	case "new":
		if cur, err := svc.Current(ctx); err == nil && cur.Status() == story.StatusOpen {
			respondText(s, i, "現在の物語がまだ完成していません")
			return
		}
		st, err := svc.Create(ctx)
		if err != nil {
			respondError(s, i, err)
			return
		}
		respondText(s, i, fmt.Sprintf("新しい物語を始めました (ID: %s, %d行)", st.ID(), st.Info().MaxLines))
	default:
		respondText(s, i, "未知のサブコマンドです")
	}
}

func HandleSettle(s *discordgo.Session, i *discordgo.InteractionCreate, svc *story.Service) {
	data := i.ApplicationCommandData()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var st *story.Story
	var err error
	if id := getStringOption(data.Options, "story_id"); id != nil && *id != "" {
		st, err = svc.Get(*id)
	} else {
		st, err = svc.Current(ctx)
	}
	if err != nil {
		respondError(s, i, err)
		return
	}

	settlement, err := st.Settle(ctx)
	if err != nil {
		respondError(s, i, err)
		return
	}
	respondChunks(s, i, SplitMessage(FormatSettlement(settlement), messageLimit))
}

func lineAddedMessage(line story.Line, maxLines int) string {
	n := line.Index + 1
	if n >= maxLines {
		return fmt.Sprintf("%d行目を追加しました。物語が完成しました！", n)
	}
	return fmt.Sprintf("%d行目を追加しました (残り%d行)", n, maxLines-n)
}

// FormatState renders a story for a Discord message.
func FormatState(st story.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**物語** %d/%d行 (%d%%)  報酬プール: %s\n", len(st.Lines), st.MaxLines, st.ProgressPercent, st.Balance)
	if len(st.Lines) == 0 {
		b.WriteString("まだ一行もありません。`/story add` で書き始めましょう\n")
	}
	for _, line := range st.Lines {
		fmt.Fprintf(&b, "%d. %s (%s)\n", line.Index+1, line.Text, displayAddress(line.Author))
	}
	switch st.Status {
	case story.StatusPendingPayout:
		b.WriteString("完成しました。報酬の分配は保留中です\n")
	case story.StatusSettled:
		if st.Settlement != nil {
			b.WriteString(FormatSettlement(*st.Settlement))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatSettlement(s story.Settlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "報酬 %s を %d 名で分配しました\n", s.Total, len(s.Payouts))
	for _, p := range s.Payouts {
		fmt.Fprintf(&b, "・%s: %s\n", displayAddress(p.Recipient), p.Amount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatSummaries(list []story.Summary) string {
	if len(list) == 0 {
		return "物語はまだありません"
	}
	var b strings.Builder
	for _, sum := range list {
		fmt.Fprintf(&b, "`%s` %s %d/%d行 報酬プール: %s\n", sum.ID, statusLabel(sum.Status), sum.LineCount, sum.MaxLines, sum.Balance)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatEvent renders an announcement for the story channel.
// It returns "" for events that are not announced.
func FormatEvent(ev story.Event) string {
	switch ev.Kind {
	case story.EventLineAdded:
		if ev.Line == nil {
			return ""
		}
		return fmt.Sprintf("%s が %d行目を追加しました: %s", displayAddress(ev.Line.Author), ev.Line.Index+1, ev.Line.Text)
	case story.EventDonation:
		if ev.Donation == nil {
			return ""
		}
		return fmt.Sprintf("%s が %s を寄付しました (報酬プール: %s)", displayAddress(ev.Donation.From), ev.Donation.Amount, ev.Balance)
	case story.EventStoryCompleted:
		return fmt.Sprintf("物語が完成しました！報酬プール %s を分配します", ev.Balance)
	case story.EventSettled:
		if ev.Settlement == nil {
			return ""
		}
		return FormatSettlement(*ev.Settlement)
	default:
		return ""
	}
}

func statusLabel(s story.Status) string {
	switch s {
	case story.StatusOpen:
		return "執筆中"
	case story.StatusPendingPayout:
		return "分配待ち"
	case story.StatusSettled:
		return "分配済み"
	default:
		return string(s)
	}
}

func displayAddress(a story.Address) string {
	if id, ok := strings.CutPrefix(string(a), "discord:"); ok {
		return fmt.Sprintf("<@%s>", id)
	}
	return a.Short()
}

// userMessage turns a story error into a reply for the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, story.ErrEmptyLine):
		return "空の行は追加できません"
	case errors.Is(err, story.ErrLineTooLong):
		return fmt.Sprintf("一行は%d文字以内にしてください", story.MaxLineLength)
	case errors.Is(err, story.ErrStoryComplete):
		return "この物語はすでに完成しています。`/story new` で新しい物語を始めてください"
	case errors.Is(err, story.ErrInvalidAmount):
		return "寄付額は正の値にしてください"
	case errors.Is(err, story.ErrStoryOpen):
		return "この物語はまだ完成していません"
	case errors.Is(err, story.ErrAlreadySettled):
		return "この物語の報酬はすでに分配済みです"
	case errors.Is(err, story.ErrStoryNotFound):
		return "物語が見つかりませんでした"
	case errors.Is(err, story.ErrValidation):
		return err.Error()
	default:
		return "処理に失敗しました。しばらくしてから再度お試しください"
	}
}

// SplitMessage splits text on line boundaries into chunks of at most limit bytes.
// A single line longer than limit is cut.
func SplitMessage(text string, limit int) []string {
	var chunks []string
	var buffer strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if buffer.Len() > 0 {
				chunks = append(chunks, buffer.String())
				buffer.Reset()
			}
			cut := cutIndex(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if buffer.Len() > 0 && buffer.Len()+len(line)+1 > limit {
			chunks = append(chunks, buffer.String())
			buffer.Reset()
		}
		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
	}
	if buffer.Len() > 0 {
		chunks = append(chunks, buffer.String())
	}
	return chunks
}

// cutIndex returns the largest index <= limit that does not split a rune.
func cutIndex(s string, limit int) int {
	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		return limit
	}
	return i
}

func logCommandError(i *discordgo.InteractionCreate, err error) {
	logrus.WithFields(logrus.Fields{
		"command": i.ApplicationCommandData().Name,
		"user_id": interactionUserID(i),
		"error":   err,
	}).Warn("story command failed")
}
