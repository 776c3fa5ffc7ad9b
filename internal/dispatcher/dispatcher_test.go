package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linguaflow/followup-engine/internal/model"
)

type stubProvider struct {
	name    string
	channel model.Channel
	ready   bool
	err     error
	id      string
	calls   int
}

func (s *stubProvider) Name() string           { return s.name }
func (s *stubProvider) Channel() model.Channel { return s.channel }
func (s *stubProvider) Ready() bool            { return s.ready }
func (s *stubProvider) Acquire() bool          { return s.ready }
func (s *stubProvider) Send(context.Context, OutboundMessage) (string, error) {
	s.calls++
	return s.id, s.err
}

func TestDispatcherRoutesByChannel(t *testing.T) {
	email := &stubProvider{name: "mailroom", channel: model.ChannelEmail, ready: true, id: "m-1"}
	sms := &stubProvider{name: "smscentral", channel: model.ChannelSMS, ready: true, id: "s-1"}
	d := NewDispatcher([]Provider{email, sms}, 2)

	id, err := d.Send(context.Background(), model.ChannelSMS, OutboundMessage{Destination: "+1", Content: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "s-1" || sms.calls != 1 || email.calls != 0 {
		t.Errorf("message should go to the sms provider only (id=%q sms=%d email=%d)", id, sms.calls, email.calls)
	}
}

func TestDispatcherNoProviderForChannel(t *testing.T) {
	d := NewDispatcher([]Provider{
		&stubProvider{name: "mailroom", channel: model.ChannelEmail, ready: true},
	}, 2)

	_, err := d.Send(context.Background(), model.ChannelCall, OutboundMessage{})
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("Send() error = %v, want ErrNoProviders", err)
	}
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	failing := &stubProvider{name: "flaky", channel: model.ChannelSMS, ready: true, err: errors.New("boom")}
	d := NewDispatcher([]Provider{failing}, 3)

	_, err := d.Send(context.Background(), model.ChannelSMS, OutboundMessage{})
	if err == nil {
		t.Fatal("Send() should fail when every attempt fails")
	}
	if failing.calls != 3 {
		t.Errorf("attempts = %d, want 3", failing.calls)
	}
}

func TestDispatcherSkipsUnhealthy(t *testing.T) {
	down := &stubProvider{name: "down", channel: model.ChannelSMS, ready: false}
	up := &stubProvider{name: "up", channel: model.ChannelSMS, ready: true, id: "ok"}
	d := NewDispatcher([]Provider{down, up}, 2)

	id, err := d.Send(context.Background(), model.ChannelSMS, OutboundMessage{})
	if err != nil || id != "ok" {
		t.Fatalf("Send() = (%q, %v), want routed to healthy provider", id, err)
	}
	if down.calls != 0 {
		t.Error("unhealthy provider should not be called")
	}
}

func TestHTTPProviderSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"prov-42"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("gw", model.ChannelEmail, srv.URL, "/v1/send", 1000, 3, 1000)
	id, err := p.Send(context.Background(), OutboundMessage{Destination: "a@b.c", Content: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "prov-42" {
		t.Errorf("provider id = %q, want prov-42", id)
	}
}

func TestHTTPProviderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider("gw", model.ChannelSMS, srv.URL, "/v1/send", 1000, 3, 1000)
	if _, err := p.Send(context.Background(), OutboundMessage{}); err == nil {
		t.Fatal("Send() should fail on 502")
	}
}
