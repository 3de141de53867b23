package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

type recordingSender struct {
	name string
	err  error
	got  []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifier_FilterAndErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{ok, bad}, []string{"market_voided"}, nil)

	require.NoError(t, n.Notify(context.Background(), "bet_placed", Message{Title: "ignored"}))
	assert.Empty(t, ok.got)

	err := n.Notify(context.Background(), "market_voided", Message{Title: "voided"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	require.Len(t, ok.got, 1)
	assert.Equal(t, "voided", ok.got[0].Title)
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{
		Title:    "Outcome challenged",
		Severity: SeverityAlert,
		Fields:   []Field{{Name: "Market", Value: "m1"}},
	})
	require.NoError(t, err)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Outcome challenged", payload.Embeds[0].Title)
	assert.Equal(t, discordColors[SeverityAlert], payload.Embeds[0].Color)
	assert.Equal(t, "m1", payload.Embeds[0].Fields[0].Value)
}

func TestTelegramSender_EscapesHTML(t *testing.T) {
	var (
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Title: "a <b> & c"}))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Contains(t, body["text"], "a &lt;b&gt; &amp; c")
}

func TestTelegramSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFromEvent(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	view := domain.MarketView{
		ID:       "m1",
		Question: "Will it rain?",
		State:    domain.StateDisputed,
		Proposal: &domain.Proposal{Outcome: domain.OutcomeYes, Bond: ledger.USDC(10)},
		Challenge: &domain.Challenge{
			Bond: ledger.USDC(10),
		},
	}

	msg, ok := FromEvent(domain.Event{Type: domain.EventOutcomeChallenged, Caller: caller}, view)
	require.True(t, ok)
	assert.Equal(t, SeverityAlert, msg.Severity)
	assert.Contains(t, msg.Fields, Field{Name: "Proposed", Value: "yes"})

	_, ok = FromEvent(domain.Event{Type: domain.EventBetPlaced}, view)
	assert.False(t, ok)
}
