package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonParser struct{}

func (jsonParser) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

const secret = "s3cret_Token-1"

func newTestServer(t *testing.T, updates chan tgbotapi.Update) *httptest.Server {
	t.Helper()
	s := New(":0", "", secret, jsonParser{}, updates, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

const sampleUpdate = `{"update_id": 42, "message": {"message_id": 1, "text": "/start", "chat": {"id": 7}, "from": {"id": 555000111, "first_name": "Eve"}}}`

func postUpdate(url, secretToken, body string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secretToken != "" {
		req.Header.Set(SecretHeader, secretToken)
	}
	return http.DefaultClient.Do(req)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, make(chan tgbotapi.Update))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateIsQueued(t *testing.T) {
	updates := make(chan tgbotapi.Update, 1)
	ts := newTestServer(t, updates)

	resp, err := postUpdate(ts.URL+DefaultPath, secret, sampleUpdate)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := <-updates
	assert.Equal(t, 42, got.UpdateID)
	assert.Equal(t, "/start", got.Message.Text)
}

func TestUpdateWithoutSecretRejected(t *testing.T) {
	for name, header := range map[string]string{"missing": "", "wrong": "s3cret_Token-2"} {
		t.Run(name, func(t *testing.T) {
			updates := make(chan tgbotapi.Update, 1)
			ts := newTestServer(t, updates)

			resp, err := postUpdate(ts.URL+DefaultPath, header, sampleUpdate)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Empty(t, updates)
		})
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	updates := make(chan tgbotapi.Update, 1)
	ts := httptest.NewServer(New(":0", "", "", jsonParser{}, updates, nil).Router())
	defer ts.Close()

	resp, err := postUpdate(ts.URL+DefaultPath, "", sampleUpdate)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, updates)
}

func TestBadPayloadRejected(t *testing.T) {
	updates := make(chan tgbotapi.Update, 1)
	ts := newTestServer(t, updates)

	resp, err := postUpdate(ts.URL+DefaultPath, secret, "{")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, updates)
}

func TestWebhookOnlyAcceptsPost(t *testing.T) {
	ts := newTestServer(t, make(chan tgbotapi.Update))

	resp, err := http.Get(ts.URL + DefaultPath)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
