// Package bothandler translates Telegram updates into pipeline queries and
// renders outcomes back as Telegram messages, venues and inline results.
package bothandler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/pipeline"
	"github.com/placepin/placepin/internal/prefs"
	"github.com/placepin/placepin/internal/telemetry"
)

// Resolver is the part of the pipeline the handler needs.
type Resolver interface {
	Resolve(ctx context.Context, q location.Query) pipeline.Outcome
}

type Handler struct {
	pipeline Resolver
	prefs    prefs.Service
	metrics  *monitoring.Metrics
}

func NewHandler(p Resolver, preferences prefs.Service, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		pipeline: p,
		prefs:    preferences,
		metrics:  metrics,
	}
}

// WebhookHandler adapts Telegram webhook POSTs into the same update flow the
// polling mode uses.
func (h *Handler) WebhookHandler(b *bot.Bot) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := telemetry.WithCorrelationID(c.Request.Context(), telemetry.NewCorrelationID())
		logger := telemetry.LogFromContext(ctx)

		var update models.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			logger.WithError(err).Error("failed to parse webhook JSON")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
			return
		}

		h.HandleUpdate(ctx, b, &update)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// HandleUpdate is the bot's default handler. It dispatches on update kind.
func (h *Handler) HandleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if telemetry.GetCorrelationID(ctx) == "" {
		ctx = telemetry.WithCorrelationID(ctx, telemetry.NewCorrelationID())
	}

	switch {
	case update.Message != nil:
		h.handleMessage(ctx, b, update.Message)
	case update.InlineQuery != nil:
		h.handleInlineQuery(ctx, b, update.InlineQuery)
	case update.ChosenInlineResult != nil:
		h.countUpdate(monitoring.UpdateInlineChosen)
	case update.CallbackQuery != nil:
		h.handleCallbackQuery(ctx, b, update.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, b *bot.Bot, message *models.Message) {
	if message.From == nil || message.Text == "" {
		return
	}
	userID := message.From.ID
	chatID := message.Chat.ID
	logger := telemetry.LogFromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"chat_id": chatID,
	})
	locale := h.localeFor(ctx, userID)

	text := strings.TrimSpace(message.Text)
	if strings.HasPrefix(text, "/") {
		h.countUpdate(monitoring.UpdateCommand)
		h.handleCommand(ctx, b, chatID, userID, locale, text)
		return
	}

	h.countUpdate(monitoring.UpdateMessage)
	logger.Debug("resolving message query")
	h.resolveAndReply(ctx, b, chatID, userID, locale, text)
}

func (h *Handler) handleCommand(ctx context.Context, b *bot.Bot, chatID, userID int64, locale, text string) {
	command, args := splitCommand(text)

	switch command {
	case "start":
		h.sendText(ctx, b, chatID, msg(locale, msgStart))
	case "help":
		h.sendText(ctx, b, chatID, msg(locale, msgHelp))
	case "loc":
		if args == "" {
			h.sendText(ctx, b, chatID, msg(locale, msgHelp))
			return
		}
		h.resolveAndReply(ctx, b, chatID, userID, locale, args)
	default:
		h.sendText(ctx, b, chatID, msg(locale, msgHelp))
	}
}

func (h *Handler) resolveAndReply(ctx context.Context, b *bot.Bot, chatID, userID int64, locale, raw string) {
	outcome := h.pipeline.Resolve(ctx, location.Query{Raw: raw, Identity: userID})

	switch outcome.Status {
	case pipeline.StatusRateLimited:
		notice := fmt.Sprintf(msg(locale, msgRateLimited), int(outcome.RetryAfter.Seconds())+1)
		h.sendText(ctx, b, chatID, notice)
	case pipeline.StatusFailed:
		h.sendText(ctx, b, chatID, msg(locale, msgFailed))
	case pipeline.StatusResolved:
		if outcome.Result.Empty() {
			h.sendText(ctx, b, chatID, msg(locale, msgNoResults))
			return
		}
		for _, loc := range outcome.Result.Locations {
			h.sendLocation(ctx, b, chatID, loc)
		}
	}
}

func (h *Handler) handleInlineQuery(ctx context.Context, b *bot.Bot, query *models.InlineQuery) {
	h.countUpdate(monitoring.UpdateInline)
	raw := strings.TrimSpace(query.Query)
	if raw == "" {
		return
	}
	userID := query.From.ID
	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	outcome := h.pipeline.Resolve(ctx, location.Query{Raw: raw, Identity: userID})
	if outcome.Status != pipeline.StatusResolved {
		logger.WithField("status", string(outcome.Status)).Debug("inline query not resolved")
		return
	}

	results := make([]models.InlineQueryResult, 0, len(outcome.Result.Locations))
	for i, loc := range outcome.Result.Locations {
		title := loc.Name
		if title == "" {
			title = loc.Address
		}
		if title == "" {
			title = fmt.Sprintf("%.6f, %.6f", loc.Latitude, loc.Longitude)
		}
		if loc.Address != "" {
			results = append(results, &models.InlineQueryResultVenue{
				ID:        strconv.Itoa(i),
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
				Title:     title,
				Address:   loc.Address,
			})
		} else {
			results = append(results, &models.InlineQueryResultLocation{
				ID:        strconv.Itoa(i),
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
				Title:     title,
			})
		}
	}

	if _, err := b.AnswerInlineQuery(ctx, &bot.AnswerInlineQueryParams{
		InlineQueryID: query.ID,
		Results:       results,
		IsPersonal:    true,
	}); err != nil {
		logger.WithError(err).Error("failed to answer inline query")
	}
}

// handleCallbackQuery re-sends a location when the user taps an inline
// button carrying "lat,lon" data.
func (h *Handler) handleCallbackQuery(ctx context.Context, b *bot.Bot, query *models.CallbackQuery) {
	h.countUpdate(monitoring.UpdateCallback)
	logger := telemetry.LogFromContext(ctx).WithField("user_id", query.From.ID)

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		logger.WithError(err).Warn("failed to acknowledge callback query")
	}

	lat, lon, ok := parseCallbackCoordinate(query.Data)
	if !ok {
		logger.WithField("data", query.Data).Debug("ignoring unrecognized callback data")
		return
	}
	if query.Message.Message == nil {
		return
	}

	if _, err := b.SendLocation(ctx, &bot.SendLocationParams{
		ChatID:    query.Message.Message.Chat.ID,
		Latitude:  lat,
		Longitude: lon,
	}); err != nil {
		logger.WithError(err).Error("failed to send callback location")
	}
}

func (h *Handler) sendLocation(ctx context.Context, b *bot.Bot, chatID int64, loc location.ResolvedLocation) {
	logger := telemetry.LogFromContext(ctx).WithField("chat_id", chatID)

	title := loc.Name
	if title == "" {
		title = loc.Address
	}
	var err error
	if title != "" {
		_, err = b.SendVenue(ctx, &bot.SendVenueParams{
			ChatID:    chatID,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Title:     title,
			Address:   loc.Address,
		})
	} else {
		_, err = b.SendLocation(ctx, &bot.SendLocationParams{
			ChatID:    chatID,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
		})
	}
	if err != nil {
		logger.WithError(err).Error("failed to send location")
	}
}

func (h *Handler) sendText(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		telemetry.LogFromContext(ctx).
			WithError(err).
			WithField("chat_id", chatID).
			Error("failed to send message")
	}
}

func (h *Handler) localeFor(ctx context.Context, userID int64) string {
	return h.prefs.Get(ctx, userID).Locale
}

func (h *Handler) countUpdate(kind string) {
	if h.metrics != nil {
		h.metrics.Updates.WithLabelValues(kind).Inc()
	}
}

// splitCommand strips the leading slash and the optional @botname suffix and
// returns the command with its remaining argument text.
func splitCommand(text string) (command, args string) {
	text = strings.TrimPrefix(text, "/")
	command, args, _ = strings.Cut(text, " ")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	return command, strings.TrimSpace(args)
}

func parseCallbackCoordinate(data string) (lat, lon float64, ok bool) {
	rawLat, rawLon, found := strings.Cut(strings.TrimSpace(data), ",")
	if !found {
		return 0, 0, false
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(rawLat), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rawLon), 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}
	return lat, lon, (location.Coordinate{Latitude: lat, Longitude: lon}).Valid()
}
