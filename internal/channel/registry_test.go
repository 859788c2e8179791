package channel

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterRejectsDuplicatesAndKeepsOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := &fakeChannel{name: "discord", prefix: "dc:"}
	second := &fakeChannel{name: "telegram", prefix: "tg:"}
	reg.MustRegister(first)
	reg.MustRegister(second)

	if err := reg.Register(&fakeChannel{name: " Discord ", prefix: "dc:"}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatalf("expected nil channel error")
	}
	channels := reg.Channels()
	if len(channels) != 2 || channels[0] != first || channels[1] != second {
		t.Fatalf("unexpected channel order: %v", channels)
	}
	if got, ok := reg.Get("TELEGRAM"); !ok || got != second {
		t.Fatalf("expected case-insensitive lookup")
	}
}

func TestRegistryCapabilityQueries(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister(&fakeChannel{name: "telegram", prefix: "tg:"})
	reg.MustRegister(&fakeFileChannel{fakeChannel: fakeChannel{name: "discord", prefix: "dc:"}})

	if _, ok := reg.GetFileSender("tg:1"); ok {
		t.Fatalf("telegram fake should not advertise file sending")
	}
	if _, ok := reg.GetFileSender("dc:1"); !ok {
		t.Fatalf("discord fake should advertise file sending even while disconnected")
	}
	if _, ok := reg.GetComponentSender("dc:1"); ok {
		t.Fatalf("discord fake has no component sending")
	}
}

func TestRegistrySendAgentReply(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord", prefix: "dc:", connected: true}
	reg := NewRegistry()
	reg.MustRegister(ch)

	sent, err := reg.SendAgentReply(context.Background(), "dc:1", "<internal>thinking</internal>")
	if err != nil || sent {
		t.Fatalf("all-internal reply must not be sent: sent=%v err=%v", sent, err)
	}
	if len(ch.messages()) != 0 {
		t.Fatalf("unexpected sends: %v", ch.messages())
	}

	sent, err = reg.SendAgentReply(context.Background(), "dc:1", "<internal>secret</internal>visible")
	if err != nil || !sent {
		t.Fatalf("expected send: sent=%v err=%v", sent, err)
	}
	if got := ch.messages(); len(got) != 1 || got[0] != "dc:1|visible" {
		t.Fatalf("unexpected sends: %v", got)
	}

	if _, err := reg.SendAgentReply(context.Background(), "tg:1", "hello"); !errors.Is(err, ErrNoChannelForAddress) {
		t.Fatalf("expected ErrNoChannelForAddress, got %v", err)
	}
}

func TestGroupRegistry(t *testing.T) {
	t.Parallel()

	groups, err := NewGroupRegistry(
		RegisteredGroup{JID: "tg:2", Folder: "team"},
		RegisteredGroup{JID: "dc:1", Folder: "main", IsPrimary: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g, ok := groups.Group("dc:1"); !ok || !g.IsPrimary {
		t.Fatalf("expected primary group for dc:1")
	}
	if _, ok := groups.Group("dc:404"); ok {
		t.Fatalf("unexpected group for unknown address")
	}
	list := groups.List()
	if len(list) != 2 || list[0].JID != "dc:1" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if !groups.Remove("tg:2") || groups.Remove("tg:2") {
		t.Fatalf("remove should succeed once")
	}
	for _, folder := range []string{"", "../etc", "a/b", ".hidden"} {
		if err := groups.Put(RegisteredGroup{JID: "x:1", Folder: folder}); err == nil {
			t.Fatalf("expected folder %q to be rejected", folder)
		}
	}
	if err := groups.Put(RegisteredGroup{Folder: "ok"}); err == nil {
		t.Fatalf("expected missing jid to be rejected")
	}
}
