package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"repday/internal/models"
)

var ErrEmptyInitData = errors.New("initData пустой. Откройте приложение через Telegram бота.")

// AuthTelegram exchanges signed init data for a token. It does not touch the session;
// the caller decides when to install the result.
func (c *Client) AuthTelegram(ctx context.Context, initData string) (*models.AuthResponse, error) {
	if strings.TrimSpace(initData) == "" {
		return nil, ErrEmptyInitData
	}
	var out models.AuthResponse
	body := map[string]string{"init_data": initData}
	if err := c.do(ctx, http.MethodPost, "/auth/telegram", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetChallenges(ctx context.Context) ([]models.ChallengeShort, error) {
	var out []models.ChallengeShort
	if err := c.do(ctx, http.MethodGet, "/challenges", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChallengeDetail(ctx context.Context, id int64) (*models.ChallengeDetail, error) {
	var out models.ChallengeDetail
	if err := c.do(ctx, http.MethodGet, challengePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, displayName string) (*models.User, error) {
	var out models.User
	body := map[string]string{"display_name": displayName}
	if err := c.do(ctx, http.MethodPatch, "/me", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChallenge(ctx context.Context, in models.NewChallenge) (*models.ChallengeDetail, error) {
	var out models.ChallengeDetail
	if err := c.do(ctx, http.MethodPost, "/challenges", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinChallenge(ctx context.Context, id int64) (*models.ChallengeDetail, error) {
	var out models.ChallengeDetail
	if err := c.do(ctx, http.MethodPost, challengePath(id)+"/join", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProgress(ctx context.Context, id int64, in models.ProgressUpdate) error {
	return c.do(ctx, http.MethodPost, challengePath(id)+"/progress", in, &models.OK{})
}

func (c *Client) GetStats(ctx context.Context, id int64) (*models.Stats, error) {
	var out models.Stats
	if err := c.do(ctx, http.MethodGet, challengePath(id)+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendNudge(ctx context.Context, id, toUserID int64) (*models.NudgeResult, error) {
	params := url.Values{}
	params.Set("to_user_id", strconv.FormatInt(toUserID, 10))

	var out models.NudgeResult
	if err := c.do(ctx, http.MethodPost, challengePath(id)+"/nudge?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChallenge(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, challengePath(id), nil, &models.OK{})
}

func (c *Client) RemoveParticipant(ctx context.Context, challengeID, userID int64) error {
	path := fmt.Sprintf("%s/participants/%d", challengePath(challengeID), userID)
	return c.do(ctx, http.MethodDelete, path, nil, &models.OK{})
}

func (c *Client) GetChallengeMessages(ctx context.Context, challengeID int64) ([]models.Message, error) {
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, challengePath(challengeID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PostChallengeMessage(ctx context.Context, challengeID int64, text string) (*models.Message, error) {
	var out models.Message
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, challengePath(challengeID)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func challengePath(id int64) string {
	return "/challenges/" + strconv.FormatInt(id, 10)
}
