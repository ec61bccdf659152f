// Package notify delivers terminal pipeline outcomes to a Discord webhook.
// Study groups point a channel webhook at the service and see an embed when a
// lecture finishes processing or fails. Delivery is asynchronous and
// best-effort: workers never wait on Discord and a failed post is only logged.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/aulavox/aulavox/internal/pipeline"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ pipeline.Notifier = (*Webhook)(nil)

// embedColorGreen is the embed sidebar color for a completed job.
const embedColorGreen = 0x2ECC71

// embedColorRed is the embed sidebar color for a failed job.
const embedColorRed = 0xE74C3C

// defaultTimeout bounds one webhook delivery.
const defaultTimeout = 10 * time.Second

// maxCauseChars truncates failure causes so a chatty error chain cannot
// overflow the embed description limit.
const maxCauseChars = 500

// executor is the slice of [discordgo.Session] the notifier uses. Webhook
// execution needs no bot authentication.
type executor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var webhookURLPattern = regexp.MustCompile(`^https://(?:[\w-]+\.)?discord\.com/api/webhooks/(\d+)/([\w-]+)$`)

// Option configures a Webhook.
type Option func(*Webhook)

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// Webhook posts job outcomes as Discord embeds. It is safe for concurrent
// use; Close waits for in-flight deliveries.
type Webhook struct {
	exec    executor
	id      string
	token   string
	timeout time.Duration

	wg sync.WaitGroup
}

// New builds a notifier from a Discord webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func New(webhookURL string, opts ...Option) (*Webhook, error) {
	m := webhookURLPattern.FindStringSubmatch(strings.TrimSpace(webhookURL))
	if m == nil {
		return nil, types.Errorf(types.KindConfiguration, "notify: not a Discord webhook URL")
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: init discord client: %w", err)
	}
	w := &Webhook{
		exec:    session,
		id:      m[1],
		token:   m[2],
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// JobDone implements [pipeline.Notifier].
func (w *Webhook) JobDone(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession) {
	w.post(ctx, doneEmbed(job, session))
}

// JobFailed implements [pipeline.Notifier].
func (w *Webhook) JobFailed(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession, cause error) {
	w.post(ctx, failedEmbed(job, session, cause))
}

// Close waits for in-flight deliveries. Call it during shutdown after the
// workers have stopped.
func (w *Webhook) Close() {
	w.wg.Wait()
}

// post delivers the embed on its own goroutine. The send context survives
// cancellation of the caller's so a job finishing during shutdown still gets
// its notification, bounded by the delivery timeout.
func (w *Webhook) post(ctx context.Context, embed *discordgo.MessageEmbed) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
		defer cancel()

		_, err := w.exec.WebhookExecute(w.id, w.token, false, &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{embed},
		}, discordgo.WithContext(sendCtx))
		if err != nil {
			slog.Warn("notification delivery failed",
				"title", embed.Title,
				"error", err,
			)
		}
	}()
}

func doneEmbed(job *types.ProcessingJob, session *types.ClassSession) *discordgo.MessageEmbed {
	fields := sessionFields(job, session)
	if session != nil && session.AudioDurationSec > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Durata audio",
			Value:  formatDuration(session.AudioDurationSec),
			Inline: true,
		})
	}
	if job != nil && len(job.Warnings) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Avvisi",
			Value:  fmt.Sprintf("%d", len(job.Warnings)),
			Inline: true,
		})
	}
	return &discordgo.MessageEmbed{
		Title:     "Lezione elaborata",
		Color:     embedColorGreen,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "aulavox"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func failedEmbed(job *types.ProcessingJob, session *types.ClassSession, cause error) *discordgo.MessageEmbed {
	fields := sessionFields(job, session)
	if job != nil {
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: "Fase", Value: string(job.CurrentStage), Inline: true},
			&discordgo.MessageEmbedField{Name: "Tentativi", Value: fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries), Inline: true},
		)
	}
	return &discordgo.MessageEmbed{
		Title:       "Elaborazione fallita",
		Description: truncate(causeText(cause), maxCauseChars),
		Color:       embedColorRed,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "aulavox"},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func sessionFields(job *types.ProcessingJob, session *types.ClassSession) []*discordgo.MessageEmbedField {
	var fields []*discordgo.MessageEmbedField
	if session != nil {
		if session.Subject != "" {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Materia", Value: session.Subject, Inline: true})
		}
		if session.Topic != "" {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Argomento", Value: session.Topic, Inline: true})
		}
	}
	if job != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Job",
			Value:  fmt.Sprintf("`%s`", job.ID),
			Inline: true,
		})
	}
	return fields
}

func causeText(cause error) string {
	if cause == nil {
		return "errore sconosciuto"
	}
	return cause.Error()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// formatDuration renders lecture seconds as "1h 24m" or "12m".
func formatDuration(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
