// Package initdata builds and verifies Telegram Mini App init data.
//
// The RepDay backend authenticates users from the initData string a Mini App
// receives from Telegram. The bot holds the same bot token the backend
// validates against, so it can produce an equivalent payload for the sender
// of an update.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoHash       = errors.New("hash missing")
	ErrInvalidHash  = errors.New("invalid init_data")
	ErrNoUser       = errors.New("init data has no user")
	ErrEmptyPayload = errors.New("init data is empty")
)

// User is the Telegram user object embedded in init data.
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Data is the decoded content of an init data string.
type Data struct {
	User       User
	AuthDate   time.Time
	StartParam string
}

// Signer produces init data signed with a bot token.
type Signer struct {
	secret []byte
}

func NewSigner(botToken string) *Signer {
	return &Signer{secret: secretKey(botToken)}
}

// Sign encodes d as a query string with its hash appended.
func (s *Signer) Sign(d Data) (string, error) {
	userJSON, err := json.Marshal(d.User)
	if err != nil {
		return "", fmt.Errorf("encode user: %w", err)
	}
	fields := map[string]string{
		"auth_date": strconv.FormatInt(d.AuthDate.Unix(), 10),
		"user":      string(userJSON),
	}
	if d.StartParam != "" {
		fields["start_param"] = d.StartParam
	}

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", s.hash(fields))
	return values.Encode(), nil
}

// Parse verifies the hash of raw and decodes it.
func (s *Signer) Parse(raw string) (Data, error) {
	if strings.TrimSpace(raw) == "" {
		return Data{}, ErrEmptyPayload
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Data{}, fmt.Errorf("parse init data: %w", err)
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	received, ok := fields["hash"]
	if !ok || received == "" {
		return Data{}, ErrNoHash
	}
	delete(fields, "hash")
	if !hmac.Equal([]byte(received), []byte(s.hash(fields))) {
		return Data{}, ErrInvalidHash
	}

	var d Data
	if fields["user"] == "" {
		return Data{}, ErrNoUser
	}
	if err := json.Unmarshal([]byte(fields["user"]), &d.User); err != nil {
		return Data{}, fmt.Errorf("decode user: %w", err)
	}
	if ts, err := strconv.ParseInt(fields["auth_date"], 10, 64); err == nil {
		d.AuthDate = time.Unix(ts, 0)
	}
	d.StartParam = fields["start_param"]
	return d, nil
}

func (s *Signer) hash(fields map[string]string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(checkString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// checkString is the sorted k=v lines the hash is computed over.
func checkString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

// secretKey matches the backend validator: sha256 of the bot token.
func secretKey(botToken string) []byte {
	sum := sha256.Sum256([]byte(botToken))
	return sum[:]
}
