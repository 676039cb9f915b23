package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
)

// DiscordConfig configures the Discord-backed adapter.
type DiscordConfig struct {
	// Token is the bot token ("Bot " prefix is added here).
	Token string `mapstructure:"token" yaml:"token"`

	// ChannelID is the fixed text channel that holds every attachment.
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
}

// Discord stores blobs as attachments on a single channel owned by a bot.
// Only the REST API is used; no gateway connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
	client    *http.Client
}

var _ Adapter = (*Discord)(nil)

// NewDiscord creates the adapter and verifies the target channel exists.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord token and channel_id are required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	// The adapter does its own retry scheduling; do not let the session
	// block inside rate-limit waits.
	session.ShouldRetryOnRateLimit = false

	if _, err := session.Channel(cfg.ChannelID); err != nil {
		return nil, fmt.Errorf("verify channel %s: %w", cfg.ChannelID, mapDiscordError(err))
	}

	return &Discord{
		session:   session,
		channelID: cfg.ChannelID,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Put publishes data as one attachment on one message.
func (d *Discord) Put(ctx context.Context, name string, data []byte) (*Ref, error) {
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	msg, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:   name,
			Reader: bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	if len(msg.Attachments) != 1 {
		return nil, fmt.Errorf("%w: message %s has %d attachments", ErrNet, msg.ID, len(msg.Attachments))
	}

	return &Ref{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		URL:       msg.Attachments[0].URL,
	}, nil
}

// Get fetches the attachment bytes of a stored blob.
func (d *Discord) Get(ctx context.Context, messageID, channelID string) ([]byte, error) {
	if channelID == "" {
		channelID = d.channelID
	}
	msg, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	if len(msg.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message %s has no attachment", ErrNotFound, messageID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Attachments[0].URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNet, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNet, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: attachment fetch status %d", ErrNet, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNet, err)
	}
	return data, nil
}

// Delete removes the message holding the blob. Deleting a blob that is
// already gone is success. An empty channelID targets the configured
// channel.
func (d *Discord) Delete(ctx context.Context, messageID, channelID string) error {
	if channelID == "" {
		channelID = d.channelID
	}
	err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	mapped := mapDiscordError(err)
	if errors.Is(mapped, ErrNotFound) {
		return nil
	}
	return mapped
}

// ListMessages pages the channel newest-first for the reconciler sweep.
func (d *Discord) ListMessages(ctx context.Context, beforeID string, limit int) ([]Message, error) {
	msgs, err := d.session.ChannelMessages(d.channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{ID: m.ID, Attachments: len(m.Attachments)})
	}
	return out, nil
}

// Close releases the session. No gateway connection is held, so this only
// drops the internal HTTP state.
func (d *Discord) Close() error {
	return d.session.Close()
}

// mapDiscordError converts discordgo errors to the adapter's taxonomy.
func mapDiscordError(err error) error {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		logger.Warn("substrate rate limit", "retry_after", rateErr.RetryAfter)
		return &RateLimitError{RetryAfter: rateErr.RetryAfter}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %v", ErrTooLarge, err)
		case http.StatusTooManyRequests:
			return &RateLimitError{RetryAfter: parseRetryAfter(restErr.Response)}
		}
	}

	return fmt.Errorf("%w: %v", ErrNet, err)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	var seconds float64
	if _, err := fmt.Sscanf(resp.Header.Get("Retry-After"), "%f", &seconds); err != nil {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
