package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/models"
)

const (
	defaultAPIBase = "https://discord.com/api/v10"
	previewBytes   = 800
	errorBodyBytes = 512
)

// DiscordNotifier posts approval requests to a Discord channel through the
// bot REST API.
type DiscordNotifier struct {
	apiBase    string
	token      string
	channelID  string
	httpClient *http.Client
	now        func() time.Time
}

// NewDiscordNotifier creates a notifier for the given approvals channel
func NewDiscordNotifier(cfg config.DiscordConfig, channelID string) *DiscordNotifier {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &DiscordNotifier{
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		token:      cfg.BotToken,
		channelID:  channelID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

type discordMessage struct {
	Content string `json:"content"`
}

// NotifyApproval implements ApprovalNotifier
func (n *DiscordNotifier) NotifyApproval(ctx context.Context, action *models.PendingAction) error {
	body, err := json.Marshal(discordMessage{Content: BuildApprovalMessage(action, n.now())})
	if err != nil {
		return fmt.Errorf("failed to marshal discord message: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", n.apiBase, n.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyBytes))
		return fmt.Errorf("discord channel message failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// BuildApprovalMessage renders the approval prompt for an action. The
// proposed data preview is cut at 800 bytes.
func BuildApprovalMessage(action *models.PendingAction, now time.Time) string {
	lines := []string{
		fmt.Sprintf("**HITL Approval Required** - Action ID: `%s`", action.ID),
		fmt.Sprintf("**Skill:** `%s`", action.SkillName),
		fmt.Sprintf("**Type:** `%s`", action.ActionType),
		fmt.Sprintf("**Requested by:** <@%s>", action.RequestedBy),
		fmt.Sprintf("**Expires:** %s", FormatRelativeExpiry(action.ExpiresAt, now)),
		"",
		"**Proposed Action:**",
		"```json",
		previewJSON(action.ProposedData),
		"```",
		"",
		"React with ✅ to **approve** or ❌ to **reject**.",
		fmt.Sprintf("Or use `hitl accept %s` / `hitl reject %s <reason>`", action.ID, action.ID),
	}
	return strings.Join(lines, "\n")
}

// FormatRelativeExpiry renders "in 1h 5m", "in 12m" or "expired"
func FormatRelativeExpiry(expiresAt, now time.Time) string {
	d := expiresAt.Sub(now)
	if d < 0 {
		return "expired"
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("in %dh %dm", hours, minutes)
	}
	return fmt.Sprintf("in %dm", minutes)
}

func previewJSON(data json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		out.Reset()
		out.Write(data)
	}

	s := out.String()
	if len(s) <= previewBytes {
		return s
	}
	cut := previewBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
